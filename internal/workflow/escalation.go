package workflow

import (
	"errors"
	"fmt"
	"time"

	"autopilot-platform/internal/channel"
	"autopilot-platform/internal/leads"
)

var (
	// ErrBadTransition rejects a state change the lifecycle does not allow.
	ErrBadTransition = errors.New("workflow: invalid state transition")
	// ErrTerminal rejects operations on converted or failed instances.
	ErrTerminal = errors.New("workflow: instance is terminal")
)

// Escalator owns the contact lifecycle:
//
//	pending -> contacted -> {responded, escalated} -> {converted, failed}
//
// Channel order comes from the lead's stated priorities; a channel is
// attempted at most once and the instance fails when all are exhausted.
type Escalator struct {
	clock func() time.Time
}

func NewEscalator() *Escalator {
	return &Escalator{clock: time.Now}
}

// Start moves a pending instance to contacted on the lead's first
// reachable channel. Contactability requires both a contact point and an
// explicit opt-in; a lead with neither fails immediately.
func (e *Escalator) Start(inst *Instance, lead leads.Profile) error {
	if inst.Status != StatusPending {
		return fmt.Errorf("%w: start from %q", ErrBadTransition, inst.Status)
	}
	if inst.ResponseWindow <= 0 {
		inst.ResponseWindow = lead.Preferences.ResponseWindow
	}
	ch, ok := e.nextChannel(inst, lead)
	if !ok {
		e.fail(inst, "no reachable channel")
		return nil
	}
	e.contact(inst, ch)
	return nil
}

// EvaluateResponse records a lead reaction on the active channel.
func (e *Escalator) EvaluateResponse(inst *Instance, resp Response) error {
	if inst.Terminal() {
		return ErrTerminal
	}
	switch inst.Status {
	case StatusContacted, StatusEscalated:
	default:
		return fmt.Errorf("%w: response in %q", ErrBadTransition, inst.Status)
	}
	inst.Status = StatusResponded
	inst.LastSentiment = resp.Sentiment
	inst.NextDueAt = nil
	inst.UpdatedAt = e.clock().UTC()
	return nil
}

// CheckConversion closes out a responded instance. A positive response
// converts; a negative one fails; neutral leaves the instance open for
// manual follow-up.
func (e *Escalator) CheckConversion(inst *Instance) error {
	if inst.Status != StatusResponded {
		return fmt.Errorf("%w: conversion check in %q", ErrBadTransition, inst.Status)
	}
	switch inst.LastSentiment {
	case SentimentPositive:
		inst.Status = StatusConverted
		inst.NextDueAt = nil
		inst.UpdatedAt = e.clock().UTC()
	case SentimentNegative:
		e.fail(inst, "negative response")
	}
	return nil
}

// Escalate moves to the next unattempted channel after the response
// window lapses, looping the instance back to contacted on that channel;
// EscalationCount records the hops. Exhausting the priority list fails
// the instance.
func (e *Escalator) Escalate(inst *Instance, lead leads.Profile) error {
	if inst.Terminal() {
		return ErrTerminal
	}
	switch inst.Status {
	case StatusPending, StatusContacted, StatusEscalated:
	default:
		return fmt.Errorf("%w: escalate from %q", ErrBadTransition, inst.Status)
	}
	ch, ok := e.nextChannel(inst, lead)
	if !ok {
		e.fail(inst, "all channels exhausted")
		return nil
	}
	inst.EscalationCount++
	e.contact(inst, ch)
	return nil
}

func (e *Escalator) nextChannel(inst *Instance, lead leads.Profile) (channel.Channel, bool) {
	for _, ch := range lead.Preferences.ChannelPriorities {
		if inst.HasAttempted(ch) {
			continue
		}
		if _, ok := lead.ContactPoint(ch); !ok {
			continue
		}
		if !lead.HasOptedIn(ch) {
			continue
		}
		return ch, true
	}
	return "", false
}

func (e *Escalator) contact(inst *Instance, ch channel.Channel) {
	now := e.clock().UTC()
	due := now.Add(inst.ResponseWindow)
	inst.Status = StatusContacted
	inst.CurrentChannel = ch
	inst.AttemptedChannels = append(inst.AttemptedChannels, ch)
	inst.ContactedAt = &now
	inst.NextDueAt = &due
	inst.UpdatedAt = now
}

func (e *Escalator) fail(inst *Instance, reason string) {
	inst.Status = StatusFailed
	inst.FailReason = reason
	inst.NextDueAt = nil
	inst.UpdatedAt = e.clock().UTC()
}
