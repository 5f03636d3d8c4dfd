// Package template fills {{var}} placeholders in canned response templates.
// It is a pure leaf: no state, no side effects, callable from any goroutine.
package template
