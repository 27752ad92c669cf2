package identity

import (
	"fmt"
	"sync"
)

// FlowState is a screen of the pre-authentication flow. SignIn is both the
// initial state and the terminal-on-success state: an authenticated session
// exits this machine entirely.
type FlowState int

const (
	FlowSignIn FlowState = iota
	FlowSignUp
	FlowForgotPassword
	FlowConfirmForgotPassword
)

// String returns the state name.
func (s FlowState) String() string {
	switch s {
	case FlowSignIn:
		return "sign_in"
	case FlowSignUp:
		return "sign_up"
	case FlowForgotPassword:
		return "forgot_password"
	case FlowConfirmForgotPassword:
		return "confirm_forgot_password"
	}
	return "unknown"
}

// Flow drives the auth-flow UI: which screen is showing and, for the
// confirmation step, which email the reset code went to. It is not the HTTP
// layer; callers run the actual operations through the Service and report
// success with Complete.
type Flow struct {
	mu    sync.Mutex
	state FlowState
	email string
}

// NewFlow starts at the sign-in screen.
func NewFlow() *Flow { return &Flow{state: FlowSignIn} }

// State returns the current screen.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Email returns the address a reset code was sent to, for the confirmation
// screen.
func (f *Flow) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email
}

// GoSignUp moves sign-in -> sign-up.
func (f *Flow) GoSignUp() error {
	return f.transition(FlowSignIn, FlowSignUp)
}

// GoForgotPassword moves sign-in -> forgot-password.
func (f *Flow) GoForgotPassword() error {
	return f.transition(FlowSignIn, FlowForgotPassword)
}

// CodeSent records that a reset code went out to email and moves
// forgot-password -> confirm-forgot-password.
func (f *Flow) CodeSent(email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FlowForgotPassword {
		return fmt.Errorf("identity: flow: code sent in state %s", f.state)
	}
	f.state = FlowConfirmForgotPassword
	f.email = email
	return nil
}

// Complete returns to sign-in from any state: successful sign-in, guest
// creation, password reset, or the user backing out.
func (f *Flow) Complete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = FlowSignIn
	f.email = ""
}

func (f *Flow) transition(from, to FlowState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		return fmt.Errorf("identity: flow: cannot move %s -> %s from %s", from, to, f.state)
	}
	f.state = to
	return nil
}
