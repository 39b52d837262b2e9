// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package servo

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/pkg/errors"
)

// Homing motion.
const (
	HomeSpeed = 1000
	HomeAcc   = 30
	stopAcc   = 200
)

// ErrJointCount is returned when a command names more angles than the arm has.
var ErrJointCount = errors.New("servo: wrong number of joint angles")

// Joint describes one servo and how its reading maps to the kinematic joint
// angle: corrected = (raw + OffsetDeg) * Sign.
type Joint struct {
	ID        byte
	Name      string
	Sign      float64 // 1 or -1
	OffsetDeg float64
	MinSteps  int
	MaxSteps  int
	HomeSteps int
}

// homeSteps are the measured rest positions of servos 1-7.
var homeSteps = []int{2911, 2167, 1179, 2010, 1058, 1732, 468}

var jointNames = []string{"base", "shoulder", "elbow", "wrist1", "wrist2", "wrist3", "gripper"}

// NewJoints builds joint descriptions from configured ids, signs and offsets.
// Every joint may use the full step range.
func NewJoints(ids []int, signs, offsetsDeg []float64) ([]Joint, error) {
	if len(signs) != len(ids) || len(offsetsDeg) != len(ids) {
		return nil, errors.Errorf("servo: %d ids, %d signs, %d offsets", len(ids), len(signs), len(offsetsDeg))
	}
	joints := make([]Joint, len(ids))
	for i, id := range ids {
		if id < 0 || id >= BroadcastID {
			return nil, errors.Errorf("servo: invalid id %d", id)
		}
		if signs[i] != 1 && signs[i] != -1 {
			return nil, errors.Errorf("servo: joint %d sign must be 1 or -1, got %v", i+1, signs[i])
		}
		j := Joint{
			ID:        byte(id),
			Name:      fmt.Sprintf("joint%d", i+1),
			Sign:      signs[i],
			OffsetDeg: offsetsDeg[i],
			MinSteps:  0,
			MaxSteps:  MaxPosition,
			HomeSteps: CenterSteps,
		}
		if i < len(jointNames) {
			j.Name = jointNames[i]
		}
		if id >= 1 && id <= len(homeSteps) {
			j.HomeSteps = homeSteps[id-1]
		}
		joints[i] = j
	}
	return joints, nil
}

// DefaultJoints returns the six arm joints with the publisher's corrections.
func DefaultJoints() []Joint {
	joints, _ := NewJoints(
		[]int{1, 2, 3, 4, 5, 6},
		[]float64{-1, -1, 1, 1, -1, -1},
		[]float64{0, 180, 180, 180, -180, 0},
	)
	return joints
}

// Corrected maps a raw servo angle to the joint angle, wrapped to [-180, 180].
func (j Joint) Corrected(rawDeg float64) float64 {
	return math.Remainder((rawDeg+j.OffsetDeg)*j.Sign, 360)
}

// Raw maps a joint angle back to the servo angle it corresponds to.
func (j Joint) Raw(deg float64) float64 {
	return deg*j.Sign - j.OffsetDeg
}

// Arm drives the joint servos of one bus in kinematic joint degrees.
type Arm struct {
	bus    *Bus
	joints []Joint
	logger *log.Logger
	// Acc is the acceleration used for commands; zero means DefaultAcc.
	Acc int

	mu      sync.Mutex
	current []int // last known steps per joint
	known   bool
}

// NewArm returns an arm over bus. logger may be nil.
func NewArm(bus *Bus, joints []Joint, logger *log.Logger) *Arm {
	return &Arm{
		bus:     bus,
		joints:  append([]Joint(nil), joints...),
		logger:  logger,
		current: make([]int, len(joints)),
	}
}

func (a *Arm) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// Joints returns the number of joints.
func (a *Arm) Joints() int {
	return len(a.joints)
}

// Ping checks every servo and returns the first failure.
func (a *Arm) Ping(ctx context.Context) error {
	for _, j := range a.joints {
		if err := a.bus.Ping(ctx, j.ID); err != nil {
			return errors.Wrapf(err, "%s", j.Name)
		}
	}
	return nil
}

// ReadSteps reads every servo's present position.
func (a *Arm) ReadSteps(ctx context.Context) ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readStepsLocked(ctx)
}

func (a *Arm) readStepsLocked(ctx context.Context) ([]int, error) {
	steps := make([]int, len(a.joints))
	for i, j := range a.joints {
		s, err := a.bus.ReadPosition(ctx, j.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", j.Name)
		}
		steps[i] = s
	}
	copy(a.current, steps)
	a.known = true
	return steps, nil
}

// ReadJointDegrees returns the corrected joint angles in degrees.
func (a *Arm) ReadJointDegrees(ctx context.Context) ([]float64, error) {
	steps, err := a.ReadSteps(ctx)
	if err != nil {
		return nil, err
	}
	deg := make([]float64, len(steps))
	for i, s := range steps {
		deg[i] = a.joints[i].Corrected(StepsToDegrees(s))
	}
	return deg, nil
}

// CheckLimits reports the first joint angle outside its servo's step range.
func (a *Arm) CheckLimits(deg []float64) error {
	if len(deg) > len(a.joints) {
		return errors.Wrapf(ErrJointCount, "%d angles for %d joints", len(deg), len(a.joints))
	}
	for i, d := range deg {
		j := a.joints[i]
		s := DegreesToSteps(j.Raw(d))
		if s < j.MinSteps || s > j.MaxSteps {
			return errors.Errorf("servo: %s at %.1f deg is %d steps, outside [%d, %d]", j.Name, d, s, j.MinSteps, j.MaxSteps)
		}
	}
	return nil
}

// CommandJointDegrees moves the arm to the given corrected angles. A shorter
// slice leaves the remaining joints where they are. Targets are clamped to
// each joint's limits and to MaxStepChange from the last known position.
func (a *Arm) CommandJointDegrees(ctx context.Context, deg []float64, speed int) error {
	if len(deg) > len(a.joints) {
		return errors.Wrapf(ErrJointCount, "%d angles for %d joints", len(deg), len(a.joints))
	}
	for _, d := range deg {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return errors.Errorf("servo: joint angle %v is not finite", d)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.known {
		if _, err := a.readStepsLocked(ctx); err != nil {
			return err
		}
	}

	target := append([]int(nil), a.current...)
	for i, d := range deg {
		target[i] = DegreesToSteps(a.joints[i].Raw(d))
	}
	return a.commandStepsLocked(ctx, target, speed, a.acc())
}

// Home moves every joint toward its rest position. Large moves take several
// calls because of the per-command step limit.
func (a *Arm) Home(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.known {
		if _, err := a.readStepsLocked(ctx); err != nil {
			return err
		}
	}
	target := make([]int, len(a.joints))
	for i, j := range a.joints {
		target[i] = j.HomeSteps
	}
	a.logf("servo: moving to home position")
	return a.commandStepsLocked(ctx, target, HomeSpeed, HomeAcc)
}

func (a *Arm) commandStepsLocked(ctx context.Context, target []int, speed, acc int) error {
	goals := make([]Goal, len(a.joints))
	for i, j := range a.joints {
		s := target[i]
		if s < j.MinSteps || s > j.MaxSteps {
			a.logf("servo: %s target %d steps outside [%d, %d], clamping", j.Name, s, j.MinSteps, j.MaxSteps)
			s = clampInt(s, j.MinSteps, j.MaxSteps)
		}
		if change := s - a.current[i]; change > MaxStepChange || change < -MaxStepChange {
			a.logf("servo: %s change of %d steps too large, clamping to %d", j.Name, change, MaxStepChange)
			if change > 0 {
				s = a.current[i] + MaxStepChange
			} else {
				s = a.current[i] - MaxStepChange
			}
		}
		goals[i] = Goal{ID: j.ID, Position: s, Speed: speed, Acc: acc}
	}
	if err := a.bus.SyncWritePositions(ctx, goals); err != nil {
		return err
	}
	for i, g := range goals {
		a.current[i] = g.Position
	}
	return nil
}

// EmergencyStop holds every servo at its present position. It tries every
// joint and returns the first error.
func (a *Arm) EmergencyStop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logf("servo: emergency stop")

	var first error
	for i, j := range a.joints {
		pos, err := a.bus.ReadPosition(ctx, j.ID)
		if err == nil {
			err = a.bus.WritePosition(ctx, j.ID, pos, 0, stopAcc)
		}
		if err != nil {
			if first == nil {
				first = errors.Wrapf(err, "%s", j.Name)
			}
			continue
		}
		a.current[i] = pos
	}
	return first
}

// SetTorque enables or releases every joint.
func (a *Arm) SetTorque(ctx context.Context, on bool) error {
	for _, j := range a.joints {
		if err := a.bus.SetTorque(ctx, j.ID, on); err != nil {
			return errors.Wrapf(err, "%s", j.Name)
		}
	}
	return nil
}

func (a *Arm) acc() int {
	if a.Acc <= 0 {
		return DefaultAcc
	}
	return a.Acc
}
