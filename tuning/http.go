package tuning

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nidaahmed301/icub-main/server"
	"goji.io/pat"
)

// HTTPWrapper exposes a Design over HTTP
type HTTPWrapper struct {
	d *Design

	RouteTable server.RouteTable
}

// NewHTTPWrapper returns a wrapper with the route table pre-configured
func NewHTTPWrapper(d *Design) HTTPWrapper {
	w := HTTPWrapper{d: d}
	rt := server.RouteTable{
		pat.Post("/plant-estimation/start"):      w.StartPlantEstimation,
		pat.Post("/plant-validation/start"):      w.StartPlantValidation,
		pat.Post("/stiction-estimation/start"):   w.StartStictionEstimation,
		pat.Post("/controller-validation/start"): w.StartControllerValidation,
		pat.Post("/stop"):                        w.Stop,
		pat.Get("/done"):                         w.Done,
		pat.Get("/wait"):                         w.Wait,
		pat.Get("/mode"):                         w.Mode,
		pat.Get("/results"):                      w.Results,
		pat.Post("/tune"):                        w.Tune,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

type startReq struct {
	MaxTime float64 `json:"max_time"`
}

type validationReq struct {
	Tau                float64 `json:"tau"`
	K                  float64 `json:"K"`
	MaxTime            float64 `json:"max_time"`
	MeasureUpdateTicks int     `json:"measure_update_ticks"`
	Q                  float64 `json:"Q"`
	R                  float64 `json:"R"`
	P0                 float64 `json:"P0"`
}

type ctrlValidationReq struct {
	Kp        float64    `json:"Kp"`
	Stiction  *[2]float64 `json:"stiction"`
	RefType   string     `json:"ref_type"`
	RefPeriod float64    `json:"ref_period"`
	MaxTime   float64    `json:"max_time"`
}

type tuneReq struct {
	Tau  float64 `json:"tau"`
	K    float64 `json:"K"`
	Type string  `json:"type"`
	FCut float64 `json:"f_cut"`
	Zeta float64 `json:"zeta"`
}

// StartPlantEstimation begins the plant estimation stage
func (h HTTPWrapper) StartPlantEstimation(w http.ResponseWriter, r *http.Request) {
	req := startReq{}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.StartPlantEstimation(req.MaxTime); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StartPlantValidation begins the plant validation stage
func (h HTTPWrapper) StartPlantValidation(w http.ResponseWriter, r *http.Request) {
	req := validationReq{}
	if !decode(w, r, &req) {
		return
	}
	err := h.d.StartPlantValidation(ValidationOptions{
		Tau: req.Tau, K: req.K,
		MaxTime:            req.MaxTime,
		MeasureUpdateTicks: req.MeasureUpdateTicks,
		Q:                  req.Q, R: req.R, P0: req.P0,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StartStictionEstimation begins the stiction estimation stage
func (h HTTPWrapper) StartStictionEstimation(w http.ResponseWriter, r *http.Request) {
	req := startReq{}
	if !decode(w, r, &req) {
		return
	}
	if err := h.d.StartStictionEstimation(req.MaxTime); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StartControllerValidation begins the controller validation stage
func (h HTTPWrapper) StartControllerValidation(w http.ResponseWriter, r *http.Request) {
	req := ctrlValidationReq{}
	if !decode(w, r, &req) {
		return
	}
	err := h.d.StartControllerValidation(ControllerValidationOptions{
		Kp:        req.Kp,
		Stiction:  req.Stiction,
		RefType:   req.RefType,
		RefPeriod: req.RefPeriod,
		MaxTime:   req.MaxTime,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop cancels the running stage
func (h HTTPWrapper) Stop(w http.ResponseWriter, r *http.Request) {
	h.d.Stop()
	w.WriteHeader(http.StatusOK)
}

// Done returns whether no stage is running
func (h HTTPWrapper) Done(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: h.d.IsDone()}
	hp.EncodeAndRespond(w, r)
}

// Wait blocks until the running stage completes
func (h HTTPWrapper) Wait(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: h.d.WaitUntilDone()}
	hp.EncodeAndRespond(w, r)
}

// Mode returns the active (or most recent) mode
func (h HTTPWrapper) Mode(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.d.Mode().String()}
	hp.EncodeAndRespond(w, r)
}

// Results returns the mode-keyed result set
func (h HTTPWrapper) Results(w http.ResponseWriter, r *http.Request) {
	res, err := h.d.Results()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Tune synthesizes compensator gains from an identified plant
func (h HTTPWrapper) Tune(w http.ResponseWriter, r *http.Request) {
	req := tuneReq{}
	if !decode(w, r, &req) {
		return
	}
	res, err := TuneController(TuneOptions{
		Tau: req.Tau, K: req.K, Type: req.Type,
		FCut: req.FCut, Zeta: req.Zeta,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]float64{
		"Kp":    res.Kp,
		"Kd":    res.Kd,
		"tau_d": res.TauD,
		"f_cut": res.FCut,
		"zeta":  res.Zeta,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
