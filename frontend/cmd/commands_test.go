package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandNames(commands []Command) []string {
	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, command.Name)
	}
	return names
}

func TestInitCommandsCoversHabitLifecycle(t *testing.T) {
	InitCommands()

	names := commandNames(userCommands)
	for _, want := range []string{
		"habits", "newhabit", "delhabit",
		"done", "undo", "stats",
		"remind", "reminders", "unremind",
		"goal", "showgoal",
		"tick-reminders", "tick-followups",
		"updatemyacc", "signout",
	} {
		assert.Contains(t, names, want)
	}

	guest := commandNames(guestCommands)
	assert.Contains(t, guest, "signin")
	assert.Contains(t, guest, "signup")
}

func TestInitCommandsEveryCommandIsRunnable(t *testing.T) {
	InitCommands()

	seen := make(map[string]bool)
	for _, set := range [][]Command{guestCommands, userCommands, commonCommands} {
		for _, command := range set {
			require.NotNil(t, command.Func, "command %q has no function", command.Name)
			require.NotEmpty(t, command.Desc, "command %q has no description", command.Name)
			assert.False(t, seen[command.Name], "command %q registered twice", command.Name)
			seen[command.Name] = true
		}
	}
}
