// Package server contains the JSON payload types shared by the HTTP surfaces.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
)

// FloatT is a struct with a single float64 field, {"f64": value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, {"int": value}
type IntT struct {
	Int int `json:"int"`
}

// BoolT is a struct with a single bool field, {"bool": value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single string field, {"str": value}
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a tagged union of the primitive payloads.  T selects which
// of the fields is sent.
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	Bool   bool
	String string
}

// value returns the single-field struct T selects
func (hp HumanPayload) value() (interface{}, error) {
	switch hp.T {
	case types.Float64:
		return FloatT{F64: hp.Float}, nil
	case types.Int:
		return IntT{Int: hp.Int}, nil
	case types.Bool:
		return BoolT{Bool: hp.Bool}, nil
	case types.String:
		return StrT{Str: hp.String}, nil
	}
	return nil, fmt.Errorf("human payload: unsupported kind %d", hp.T)
}

// EncodeAndRespond writes the payload to w as JSON
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	v, err := hp.value()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	EncodeAndRespond(w, v)
}

// EncodeAndRespond writes v to w as JSON with a 200 status
func EncodeAndRespond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}
