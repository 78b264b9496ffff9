// Package server contains the HTTP plumbing shared by the device wrappers.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"

	"goji.io"
)

// RouteTable maps goji patterns to handler funcs
type RouteTable map[goji.Pattern]http.HandlerFunc

// Endpoints lists the route strings in the table
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, fmt.Sprint(k))
	}
	return routes
}

// Bind attaches the table's routes to a mux
func (rt RouteTable) Bind(mux *goji.Mux) {
	for pattern, handler := range rt {
		mux.HandleFunc(pattern, handler)
	}
}

// HTTPer is an object that can yield a route table to bind to a mux
type HTTPer interface {
	RT() RouteTable
}

// HumanPayload is a struct containing the basic types HTTP wrappers work with
type HumanPayload struct {
	// T is the type of data actually populated
	T types.BasicKind

	// Bool holds a bool
	Bool bool

	// Int holds an int
	Int int

	// Float holds a float64
	Float float64

	// String holds a string
	String string
}

// EncodeAndRespond writes the payload to w as a JSON envelope
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		http.Error(w, "unknown payload type", http.StatusInternalServerError)
		return
	}
	if err != nil {
		fstr := fmt.Sprintf("error encoding payload to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// FloatT is a struct with a single field for JSON input/output of floats
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single field for JSON input/output of ints
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single field for JSON input/output of strings
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single field for JSON input/output of bools
type BoolT struct {
	Bool bool `json:"bool"`
}
