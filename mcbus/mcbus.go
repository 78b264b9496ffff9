// Package mcbus speaks the telegram protocol of a single-axis motor
// control board over TCP or serial and adapts it to the joint capability
// interfaces.
package mcbus

import (
	"fmt"
	"time"

	"github.com/nidaahmed301/icub-main/comm"
	"github.com/nidaahmed301/icub-main/joint"
	"github.com/tarm/serial"
)

// Board talks to one motor control board.  It implements joint.Controller.
type Board struct {
	pool    *comm.Pool
	timeout time.Duration
}

// NewBoard returns a board reached at addr over TCP.
func NewBoard(addr string) *Board {
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	return &Board{
		pool:    comm.NewPool(1, 30*time.Second, maker),
		timeout: 3 * time.Second,
	}
}

// NewBoardSerial returns a board reached over a serial line.
func NewBoardSerial(cfg *serial.Config) *Board {
	maker := comm.SerialConnMaker(cfg)
	return &Board{
		pool:    comm.NewPool(1, 30*time.Second, maker),
		timeout: 3 * time.Second,
	}
}

func (b *Board) transact(t telegram) (telegram, error) {
	var resp telegram
	conn, err := b.pool.Get()
	if err != nil {
		return resp, err
	}
	wrap, err := comm.NewTimeout(conn, b.timeout)
	if err != nil {
		// serial carries its own timeout, use the raw connection
		wrap = conn
	}
	err = write(wrap, t)
	if err != nil {
		b.pool.Destroy(conn)
		return resp, err
	}
	resp, err = read(wrap)
	b.pool.ReturnWithError(conn, err)
	if err != nil {
		return resp, err
	}
	if resp.op != t.op|opReply {
		return resp, fmt.Errorf("mcbus: reply op %#x does not match request %#x", resp.op, t.op)
	}
	if resp.status != statusOK {
		return resp, StatusError(resp.status)
	}
	return resp, nil
}

func (b *Board) getFloats(j int, op byte, n int) ([]float64, error) {
	resp, err := b.transact(telegram{axis: byte(j), op: op})
	if err != nil {
		return nil, err
	}
	vals := resp.floats()
	if len(vals) < n {
		return nil, fmt.Errorf("mcbus: reply carries %d values, want %d", len(vals), n)
	}
	return vals, nil
}

func (b *Board) putFloats(j int, op byte, vals ...float64) error {
	_, err := b.transact(telegram{axis: byte(j), op: op, payload: packFloats(vals)})
	return err
}

// Encoder returns the position of the joint in encoder units
func (b *Board) Encoder(j int) (float64, error) {
	v, err := b.getFloats(j, opEncoder, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Limits returns the hardware travel range of the joint
func (b *Board) Limits(j int) (float64, float64, error) {
	v, err := b.getFloats(j, opLimits, 2)
	if err != nil {
		return 0, 0, err
	}
	return v[0], v[1], nil
}

// PID reads the parameter block of the joint's position loop
func (b *Board) PID(j int) (joint.PID, error) {
	v, err := b.getFloats(j, opGetPID, 7)
	if err != nil {
		return joint.PID{}, err
	}
	return joint.PID{
		Kp: v[0], Ki: v[1], Kd: v[2],
		MaxInt: v[3], MaxOut: v[4],
		StictionUp: v[5], StictionDown: v[6],
	}, nil
}

// SetPID overwrites the parameter block of the joint's position loop
func (b *Board) SetPID(j int, p joint.PID) error {
	return b.putFloats(j, opSetPID,
		p.Kp, p.Ki, p.Kd, p.MaxInt, p.MaxOut, p.StictionUp, p.StictionDown)
}

// SetOffset adds a constant voltage to the loop output
func (b *Board) SetOffset(j int, volts float64) error {
	return b.putFloats(j, opSetOffset, volts)
}

// SetReference sets the loop set-point
func (b *Board) SetReference(j int, pos float64) error {
	return b.putFloats(j, opSetReference, pos)
}

// Reference returns the loop set-point
func (b *Board) Reference(j int) (float64, error) {
	v, err := b.getFloats(j, opGetReference, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Output returns the last voltage produced by the loop
func (b *Board) Output(j int) (float64, error) {
	v, err := b.getFloats(j, opGetOutput, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// SetOpenLoopMode routes the PID offset directly to the motor
func (b *Board) SetOpenLoopMode(j int) error {
	return b.putFloats(j, opOpenLoopMode)
}

// SetPositionMode restores the position loop
func (b *Board) SetPositionMode(j int) error {
	return b.putFloats(j, opPositionMode)
}

// PositionMove starts a move to an absolute target
func (b *Board) PositionMove(j int, target float64) error {
	return b.putFloats(j, opPositionMove, target)
}

// SetRefSpeed sets the interpolator cruise speed
func (b *Board) SetRefSpeed(j int, speed float64) error {
	return b.putFloats(j, opRefSpeed, speed)
}

// SetRefAcceleration sets the interpolator acceleration
func (b *Board) SetRefAcceleration(j int, acc float64) error {
	return b.putFloats(j, opRefAcceleration, acc)
}

// Stop aborts a move in progress
func (b *Board) Stop(j int) error {
	return b.putFloats(j, opStop)
}

var _ joint.Controller = (*Board)(nil)
