package admincli

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRun_UnknownCommand(t *testing.T) {
	a := &App{}

	err := a.Run(context.Background(), []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRun_MissingCommand(t *testing.T) {
	a := &App{}

	err := a.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
}

func TestRunCreateUser_RequiresEmail(t *testing.T) {
	a := &App{}

	err := a.runCreateUser(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "-email is required") {
		t.Fatalf("expected email required error, got %v", err)
	}
}

func TestRunCreateUser_PasswordMismatch(t *testing.T) {
	a := &App{}

	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	answers := []string{"first", "second"}
	readPassword = func(fd int) ([]byte, error) {
		answer := answers[0]
		answers = answers[1:]
		return []byte(answer), nil
	}

	err := a.runCreateUser(context.Background(), []string{"-email", "alice@example.com"})
	if err == nil || !strings.Contains(err.Error(), "do not match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestPromptPassword_ReadError(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	readPassword = func(fd int) ([]byte, error) {
		return nil, errors.New("no tty")
	}

	if _, err := promptPassword("Password: "); err == nil || !strings.Contains(err.Error(), "no tty") {
		t.Fatalf("expected read error, got %v", err)
	}
}
