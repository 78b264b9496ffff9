package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	"goji.io"
	yml "gopkg.in/yaml.v2"

	"github.com/nidaahmed301/icub-main/joint"
	"github.com/nidaahmed301/icub-main/mcbus"
	"github.com/nidaahmed301/icub-main/server/middleware/locker"
	"github.com/nidaahmed301/icub-main/telemetry"
	"github.com/nidaahmed301/icub-main/tuning"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "jointtune.yml"
	k              = koanf.New(".")
)

// GeneralConfig selects the joint and how to reach it
type GeneralConfig struct {
	// Joint is the index of the joint on the board
	Joint int `koanf:"joint" yaml:"joint"`

	// Board is the TCP address of the motor control board; empty runs
	// the built-in simulator
	Board string `koanf:"board" yaml:"board"`

	// Log is a CSV file telemetry frames are written to; an existing file
	// is truncated at startup; empty disables
	Log string `koanf:"log" yaml:"log"`
}

// PlantConfig mirrors the plant_estimation option group
type PlantConfig struct {
	Ts     float64 `koanf:"Ts" yaml:"Ts"`
	Q      float64 `koanf:"Q" yaml:"Q"`
	R      float64 `koanf:"R" yaml:"R"`
	P0     float64 `koanf:"P0" yaml:"P0"`
	Tau    float64 `koanf:"tau" yaml:"tau"`
	K      float64 `koanf:"K" yaml:"K"`
	MaxPWM float64 `koanf:"max_pwm" yaml:"max_pwm"`
}

// StictionConfig mirrors the plant_stiction option group
type StictionConfig struct {
	T        float64   `koanf:"T" yaml:"T"`
	Kp       float64   `koanf:"Kp" yaml:"Kp"`
	Ki       float64   `koanf:"Ki" yaml:"Ki"`
	Kd       float64   `koanf:"Kd" yaml:"Kd"`
	VelThres float64   `koanf:"vel_thres" yaml:"vel_thres"`
	ErrThres float64   `koanf:"e_thres" yaml:"e_thres"`
	Gamma    []float64 `koanf:"gamma" yaml:"gamma"`
	Stiction []float64 `koanf:"stiction" yaml:"stiction"`
}

// SimConfig parameterizes the built-in simulator
type SimConfig struct {
	Tau          float64 `koanf:"tau" yaml:"tau"`
	K            float64 `koanf:"K" yaml:"K"`
	StictionUp   float64 `koanf:"stiction_up" yaml:"stiction_up"`
	StictionDown float64 `koanf:"stiction_down" yaml:"stiction_down"`
	Min          float64 `koanf:"min" yaml:"min"`
	Max          float64 `koanf:"max" yaml:"max"`
	Noise        float64 `koanf:"noise" yaml:"noise"`
}

// Config is the top-level configuration
type Config struct {
	Addr            string         `koanf:"addr" yaml:"addr"`
	General         GeneralConfig  `koanf:"general" yaml:"general"`
	PlantEstimation PlantConfig    `koanf:"plant_estimation" yaml:"plant_estimation"`
	PlantStiction   StictionConfig `koanf:"plant_stiction" yaml:"plant_stiction"`
	Sim             SimConfig      `koanf:"sim" yaml:"sim"`
}

func defaults() Config {
	return Config{
		Addr: ":8000",
		PlantEstimation: PlantConfig{
			Ts: 0.01, Q: 1, R: 1, P0: 1e5, Tau: 1, K: 1, MaxPWM: 800},
		PlantStiction: StictionConfig{
			T: 2, Kp: 10, Ki: 250, Kd: 15,
			VelThres: 5, ErrThres: 1,
			Gamma:    []float64{0.001, 0.001},
			Stiction: []float64{0, 0}},
		Sim: SimConfig{
			Tau: 0.3, K: 1.5,
			StictionUp: 0.8, StictionDown: -0.5,
			Min: 0, Max: 100, Noise: 0.01},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `jointtune identifies the voltage-to-position dynamics of one joint and
designs position-loop gains from the result.

Usage:
	jointtune <command>

Commands:
	run        serve the HTTP interface
	calibrate  run a full identification pass and print the gains
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `jointtune is amenable to configuration via its .yaml file.  For a primer
on YAML, see https://yaml.org/start.html

With no "general: board:" address the built-in joint simulator is used,
which is handy for exercising the pipeline on a desk.

Option groups:
- general:          joint (index), board (tcp addr), log (csv path)
- plant_estimation: Ts, Q, R, P0, tau, K, max_pwm
- plant_stiction:   T, Kp, Ki, Kd, vel_thres, e_thres, gamma, stiction
- sim:              tau, K, stiction_up, stiction_down, min, max, noise`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("jointtune version %v\n", Version)
}

func pair(l []float64) [2]float64 {
	var out [2]float64
	copy(out[:], l)
	return out
}

// buildDesign assembles the joint controller and a configured Design
func buildDesign(c Config) (*tuning.Design, error) {
	var ctl joint.Controller
	if c.General.Board == "" {
		sim := joint.NewSim(joint.SimConfig{
			Tau: c.Sim.Tau, K: c.Sim.K,
			StictionUp: c.Sim.StictionUp, StictionDown: c.Sim.StictionDown,
			Min: c.Sim.Min, Max: c.Sim.Max,
			Noise: c.Sim.Noise,
			PID:   joint.PID{Kp: 10, MaxInt: 800, MaxOut: 800},
		})
		go func() {
			tick := time.NewTicker(time.Millisecond)
			defer tick.Stop()
			for range tick.C {
				sim.Step(0.001)
			}
		}()
		ctl = sim
		log.Println("no board address configured, using the joint simulator")
	} else {
		ctl = mcbus.NewBoard(c.General.Board)
	}

	sc := tuning.StictionConfig{
		T:        c.PlantStiction.T,
		Kp:       c.PlantStiction.Kp,
		Ki:       c.PlantStiction.Ki,
		Kd:       c.PlantStiction.Kd,
		VelThres: c.PlantStiction.VelThres,
		ErrThres: c.PlantStiction.ErrThres,
		Gamma:    pair(c.PlantStiction.Gamma),
		Stiction: pair(c.PlantStiction.Stiction),
	}
	d := tuning.NewDesign()
	err := d.Configure(ctl, tuning.Config{
		Joint: c.General.Joint,
		Plant: tuning.PlantConfig{
			Ts: c.PlantEstimation.Ts,
			Q:  c.PlantEstimation.Q, R: c.PlantEstimation.R,
			P0:  c.PlantEstimation.P0,
			Tau: c.PlantEstimation.Tau, K: c.PlantEstimation.K,
			MaxPWM: c.PlantEstimation.MaxPWM,
		},
		Stiction: &sc,
	})
	return d, err
}

func startLog(c Config, d *tuning.Design) {
	if c.General.Log == "" {
		return
	}
	f, err := os.Create(c.General.Log)
	if err != nil {
		log.Fatal(err)
	}
	frames := d.Port().Subscribe(1024)
	go func() {
		defer f.Close()
		if err := telemetry.Record(f, frames); err != nil {
			log.Println("telemetry log:", err)
		}
	}()
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	d, err := buildDesign(c)
	if err != nil {
		log.Fatal(err)
	}
	startLog(c, d)

	wrapper := tuning.NewHTTPWrapper(d)
	lock := locker.New()
	locker.Inject(wrapper, lock)
	mux := goji.NewMux()
	wrapper.RT().Bind(mux)

	r := chi.NewRouter()
	r.Use(middleware.Logger, middleware.Recoverer)
	r.Handle("/*", lock.Check(mux))

	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, r))
}

// stage runs one stage with a spinner on the terminal
func stage(name string, start func() error, wait func() bool) {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " " + name,
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	if err := start(); err != nil {
		spinner.StopFail()
		log.Fatal(name, ": ", err)
	}
	wait()
	spinner.Stop()
}

func calibrate() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	d, err := buildDesign(c)
	if err != nil {
		log.Fatal(err)
	}
	startLog(c, d)

	stage("plant estimation", func() error {
		return d.StartPlantEstimation(30)
	}, d.WaitUntilDone)
	res, err := d.Results()
	if err != nil {
		log.Fatal(err)
	}
	tau := res["tau_mean"].(float64)
	gain := res["K_mean"].(float64)
	fmt.Printf("tau=%.4g K=%.4g\n", tau, gain)

	stage("plant validation", func() error {
		return d.StartPlantValidation(tuning.ValidationOptions{
			Tau: tau, K: gain, MaxTime: 10})
	}, d.WaitUntilDone)

	stage("stiction estimation", func() error {
		return d.StartStictionEstimation(60)
	}, d.WaitUntilDone)
	res, err = d.Results()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("stiction =", res["stiction"])

	gains, err := tuning.TuneController(tuning.TuneOptions{
		Tau: tau, K: gain, Type: "PD", FCut: 2, Zeta: 1})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Kp=%.4g Kd=%.4g tau_d=%.4g f_cut=%.4g zeta=%.4g\n",
		gains.Kp, gains.Kd, gains.TauD, gains.FCut, gains.Zeta)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "calibrate":
		calibrate()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
