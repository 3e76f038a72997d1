package brain

import (
	"errors"
	"testing"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var got []byte
	registry.Register(0x10, "test_command", func(args []byte) error {
		got = args
		return nil
	})

	cmd, ok := registry.GetCommand(0x10)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	if err := registry.Dispatch(0x10, []byte{1, 2}); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Handler got args % x", got)
	}

	err := registry.Dispatch(0x11, nil)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

func TestCommandRegistryReplaceAndNames(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register(0xFF, "reset", func([]byte) error { return nil })
	registry.Register(0x02, "panel_info", func([]byte) error { return nil })
	registry.Register(0x01, "num_panels", func([]byte) error { return nil })

	failure := errors.New("boom")
	registry.Register(0x02, "panel_info", func([]byte) error { return failure })

	if registry.Count() != 3 {
		t.Errorf("Expected 3 commands, got %d", registry.Count())
	}

	names := registry.Names()
	want := []string{"num_panels", "panel_info", "reset"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	if err := registry.Dispatch(0x02, nil); !errors.Is(err, failure) {
		t.Errorf("Replaced handler not used: %v", err)
	}
}
