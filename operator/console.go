package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Console reads commands line by line and hands them to an Executor
type Console struct {
	In  io.Reader
	Out io.Writer
	Ex  Executor
}

// Run reads In until EOF, a shutdown command, or ctx is done
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			if line == "" {
				continue
			}
			cmd, err := ParseLine(line)
			if err != nil {
				color.New(color.FgRed).Fprintln(c.Out, err)
				if errors.Is(err, ErrUnknownCommand) {
					fmt.Fprintln(c.Out, Usage)
				}
				continue
			}
			if cmd.Kind == Help {
				fmt.Fprintln(c.Out, Usage)
				continue
			}
			if err := c.Ex.Execute(ctx, cmd); err != nil {
				color.New(color.FgRed).Fprintf(c.Out, "%s: %v\n", cmd, err)
				continue
			}
			fmt.Fprintf(c.Out, "%s ok\n", cmd)
			if cmd.Kind == Shutdown {
				return nil
			}
		}
	}
}
