package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/jghoshh/ritmo/frontend/client"
	"github.com/jghoshh/ritmo/lib/utils"
)

// guestCommands is a slice of Command structures containing commands that are available to users who have not logged in.
var guestCommands []Command

// userCommands is a slice of Command structures containing commands that are available only to logged in users.
var userCommands []Command

// commonCommands is a slice of Command structures containing commands that are available to all users, regardless of their login status.
var commonCommands []Command

// loggedIn is a boolean variable that indicates whether a user is currently logged in.
var loggedIn bool

// shell represents an instance of the interactive shell used for this application.
var shell *ishell.Shell

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string                   // Name is the name of the command.
	Desc string                   // Desc is a short description of what the command does.
	Func func(c *ishell.Context) // Func is the function that is executed when the command is invoked.
}

// switchToUserCommands swaps the guest command set for the signed-in set.
func switchToUserCommands() {
	loggedIn = true
	for _, command := range guestCommands {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, userCommands)
}

// switchToGuestCommands swaps the signed-in command set for the guest set.
func switchToGuestCommands() {
	loggedIn = false
	for _, command := range userCommands {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, guestCommands)
}

// handleSessionError reports an error to the user, dropping back to the
// guest command set when the session has expired.
func handleSessionError(err error) {
	if err.Error() == "expired refresh token" {
		utils.PrintError("Session expired, please sign in again by typing 'signin' in the terminal.")
		client.ClearKeyring()
		switchToGuestCommands()
		return
	}
	utils.PrintError(err.Error())
}

// promptLine keeps asking until the user enters a non-empty line.
func promptLine(c *ishell.Context, prompt string) string {
	for {
		c.Print(prompt)
		value := strings.TrimSpace(c.ReadLine())
		if value != "" {
			return value
		}
		c.Println("A value is required.")
	}
}

// promptOptional asks once and accepts an empty answer.
func promptOptional(c *ishell.Context, prompt string) string {
	c.Print(prompt)
	return strings.TrimSpace(c.ReadLine())
}

// promptInt keeps asking until the user enters a non-negative number, with
// an empty answer meaning the given default.
func promptInt(c *ishell.Context, prompt string, def int) int {
	for {
		c.Print(prompt)
		raw := strings.TrimSpace(c.ReadLine())
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err == nil && n >= 0 {
			return n
		}
		c.Println("Please enter a non-negative number.")
	}
}

// pickHabit lists the user's habits and asks which one to act on. Returns
// the chosen habit's ID, or an empty string when there is nothing to pick.
func pickHabit(c *ishell.Context) string {
	habits, err := client.ListHabits()
	if err != nil {
		handleSessionError(err)
		return ""
	}
	if len(habits) == 0 {
		c.Println("You have no habits yet. Create one with 'newhabit'.")
		return ""
	}
	for i, h := range habits {
		status := "active"
		if !h.Active {
			status = "paused"
		}
		c.Printf("  %d) %s [%s] streak: %d (best %d)\n", i+1, h.Name, status, h.CurrentStreak, h.MaxStreak)
	}
	for {
		n := promptInt(c, "Pick a habit by number: ", 0)
		if n >= 1 && n <= len(habits) {
			return habits[n-1].ID.Hex()
		}
		c.Println("No habit with that number.")
	}
}

// pickReminder lists a habit's reminders and asks which one to act on.
// Returns the chosen rule's ID, or an empty string when there is none.
func pickReminder(c *ishell.Context, habitID string) string {
	rules, err := client.ListReminders(habitID)
	if err != nil {
		handleSessionError(err)
		return ""
	}
	if len(rules) == 0 {
		c.Println("This habit has no reminders.")
		return ""
	}
	for i, r := range rules {
		days := r.Days
		if days == "" {
			days = "every day"
		}
		c.Printf("  %d) %s at %s (%s)\n", i+1, r.Channel, r.Time, days)
	}
	for {
		n := promptInt(c, "Pick a reminder by number: ", 0)
		if n >= 1 && n <= len(rules) {
			return rules[n-1].ID.Hex()
		}
		c.Println("No reminder with that number.")
	}
}

// InitCommands initializes the shell and sets up the commands for guest and
// signed-in scenarios.
func InitCommands() {

	// Initialize shell
	shell = ishell.New()

	// Define the commands available to a guest user (not signed in)
	guestCommands = []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				var username, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()
					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()
					if len(password) > 0 {
						break
					}
					c.Println("Password cannot be empty.")
				}

				_, _, err := client.SignIn(username, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Welcome, you are now signed in.")
				switchToUserCommands()
			},
		},
		{
			Name: "signup",
			Desc: "Sign up for a new account",
			Func: func(c *ishell.Context) {
				var username, email, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()
					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()
					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if utils.ValidatePassword(password) {
						c.Print("Confirm Password: ")
						confirmPassword := c.ReadPassword()

						if password == confirmPassword {
							break
						}
						c.Println()
						c.Println("Passwords do not match. Please try again.")
						c.Println()
					} else {
						c.Println()
						c.Println("Password must be at least 8 characters and contain both letters and numbers.")
						c.Println()
					}
				}

				_, _, err := client.SignUp(username, email, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Account created successfully. You are now signed in.")
				switchToUserCommands()
			},
		},
	}

	// Define the commands available to a signed in user
	userCommands = []Command{
		{
			Name: "habits",
			Desc: "List your habits",
			Func: func(c *ishell.Context) {
				habits, err := client.ListHabits()
				if err != nil {
					handleSessionError(err)
					return
				}
				if len(habits) == 0 {
					c.Println("You have no habits yet. Create one with 'newhabit'.")
					return
				}
				for _, h := range habits {
					status := "active"
					if !h.Active {
						status = "paused"
					}
					c.Printf("  |-- %s [%s] streak: %d (best %d)\n", h.Name, status, h.CurrentStreak, h.MaxStreak)
				}
			},
		},
		{
			Name: "newhabit",
			Desc: "Create a new habit",
			Func: func(c *ishell.Context) {
				name := promptLine(c, "Habit name: ")
				description := promptOptional(c, "Description (optional): ")
				target := promptInt(c, "Times per day to count as done (default 1): ", 1)

				habit, err := client.CreateHabit(name, description, target)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Habit '%s' created.\n", habit.Name)
			},
		},
		{
			Name: "done",
			Desc: "Mark a habit done for today",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				times := promptInt(c, "How many times (default 1): ", 1)
				notes := promptOptional(c, "Notes (optional): ")

				result, err := client.CompleteHabit(habitID, "", times, notes)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Recorded: %s (%d today). Streak: %d (best %d)\n",
					result.Record.Status, result.Record.Count,
					result.Habit.CurrentStreak, result.Habit.MaxStreak)
			},
		},
		{
			Name: "delhabit",
			Desc: "Delete a habit and its history",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				for {
					c.Print("This removes the habit, its records and its reminders. Are you sure? (yes/no): ")
					response := strings.ToLower(c.ReadLine())
					if response == "no" {
						c.Println("Nothing deleted.")
						return
					}
					if response == "yes" {
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}

				if err := client.DeleteHabit(habitID); err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Habit deleted.")
			},
		},
		{
			Name: "undo",
			Desc: "Walk back today's completion of a habit",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				times := promptInt(c, "How many times to remove (default 1): ", 1)

				result, err := client.UncompleteHabit(habitID, "", times)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Updated: %s (%d today). Streak: %d (best %d)\n",
					result.Record.Status, result.Record.Count,
					result.Habit.CurrentStreak, result.Habit.MaxStreak)
			},
		},
		{
			Name: "stats",
			Desc: "Show the tracked history of a habit",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				stats, err := client.HabitStats(habitID)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Current streak: %d\n", stats.CurrentStreak)
				c.Printf("Best streak:    %d\n", stats.MaxStreak)
				c.Printf("Days tracked:   %d\n", stats.DaysTracked)
				c.Printf("Completed days: %d\n", stats.CompletedDays)
				c.Printf("Partial days:   %d\n", stats.PartialDays)
				c.Printf("Completion:     %.0f%%\n", stats.CompletionRate*100)
			},
		},
		{
			Name: "remind",
			Desc: "Add a reminder to a habit",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				timeOfDay := promptLine(c, "Time of day (HH:MM, 24h): ")
				days := promptOptional(c, "Days (e.g. L,M,X,J,V; empty for every day): ")
				message := promptOptional(c, "Custom message (optional): ")

				followup := false
				for {
					c.Print("Send a follow-up if not done? (yes/no): ")
					response := strings.ToLower(c.ReadLine())
					if response == "yes" || response == "no" {
						followup = response == "yes"
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}

				rule, err := client.AddReminder(habitID, timeOfDay, days, message, followup)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Reminder set for %s.\n", rule.Time)
			},
		},
		{
			Name: "reminders",
			Desc: "List the reminders of a habit",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				rules, err := client.ListReminders(habitID)
				if err != nil {
					handleSessionError(err)
					return
				}
				if len(rules) == 0 {
					c.Println("This habit has no reminders.")
					return
				}
				for _, r := range rules {
					days := r.Days
					if days == "" {
						days = "every day"
					}
					state := "on"
					if !r.Active {
						state = "off"
					}
					c.Printf("  |-- %s at %s (%s) [%s] id: %s\n", r.Channel, r.Time, days, state, r.ID.Hex())
				}
			},
		},
		{
			Name: "unremind",
			Desc: "Remove a reminder from a habit",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				ruleID := pickReminder(c, habitID)
				if ruleID == "" {
					return
				}
				if err := client.DeleteReminder(ruleID); err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Reminder removed.")
			},
		},
		{
			Name: "showgoal",
			Desc: "Show the goal attached to a habit",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				goal, err := client.GetGoal(habitID)
				if err != nil {
					if err.Error() == "this habit has no goal" {
						c.Println("This habit has no goal. Attach one with 'goal'.")
						return
					}
					handleSessionError(err)
					return
				}
				c.Printf("Goal: %s\n", goal.Name)
				if goal.Description != "" {
					c.Printf("  %s\n", goal.Description)
				}
				if goal.Target > 0 {
					c.Printf("  Target: %d days\n", goal.Target)
				}
			},
		},
		{
			Name: "goal",
			Desc: "Attach a goal to a habit",
			Func: func(c *ishell.Context) {
				habitID := pickHabit(c)
				if habitID == "" {
					return
				}
				name := promptLine(c, "Goal name: ")
				description := promptOptional(c, "Why does this habit matter? (optional): ")
				target := promptInt(c, "Target days (optional, default 0): ", 0)

				goal, err := client.SetGoal(habitID, name, description, target)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Goal '%s' attached.\n", goal.Name)
			},
		},
		{
			Name: "tick-reminders",
			Desc: "Run a reminder dispatch pass right now",
			Func: func(c *ishell.Context) {
				summary, err := client.TriggerReminderTick()
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Dispatched %d reminder(s), skipped %d.\n", summary.Dispatched, summary.Skipped)
			},
		},
		{
			Name: "tick-followups",
			Desc: "Run a follow-up check pass right now",
			Func: func(c *ishell.Context) {
				summary, err := client.TriggerFollowupTick()
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Printf("Scheduled %d follow-up(s).\n", summary.Scheduled)
			},
		},
		{
			Name: "updatemyacc",
			Desc: "Update your account information",
			Func: func(c *ishell.Context) {
				var currentPassword, newUsername, newEmail, newPassword string

				for {
					c.Print("Enter Current Password: ")
					currentPassword = c.ReadPassword()
					if len(currentPassword) > 0 {
						break
					}
					c.Println("Current password cannot be empty.")
				}

				for {
					c.Print("Do you want to update your username? (yes/no): ")
					response := strings.ToLower(c.ReadLine())
					if response == "yes" || response == "no" {
						if response == "yes" {
							for {
								c.Print("Enter New Username: ")
								newUsername = c.ReadLine()
								if len(newUsername) > 1 {
									break
								}
								c.Println("New username must be longer than 1 character.")
							}
						}
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}

				for {
					c.Print("Do you want to update your email? (yes/no): ")
					response := strings.ToLower(c.ReadLine())
					if response == "yes" || response == "no" {
						if response == "yes" {
							for {
								c.Print("Enter New Email: ")
								newEmail = c.ReadLine()
								if utils.ValidateEmail(newEmail) {
									break
								}
								c.Println("New email is not valid.")
							}
						}
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}

				for {
					c.Print("Do you want to update your password? (yes/no): ")
					response := strings.ToLower(c.ReadLine())
					if response == "yes" || response == "no" {
						if response == "yes" {
							for {
								c.Print("Enter New Password: ")
								candidate := c.ReadPassword()

								if utils.ValidatePassword(candidate) {
									c.Print("Confirm New Password: ")
									confirmPassword := c.ReadPassword()

									if candidate == confirmPassword {
										newPassword = candidate
										break
									}
									c.Println()
									c.Println("Passwords do not match. Please try again.")
									c.Println()
								} else {
									c.Println()
									c.Println("New password must be at least 8 characters and contain both letters and numbers.")
									c.Println()
								}
							}
						}
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}

				err := client.UpdateUser(currentPassword, newUsername, newEmail, newPassword)
				if err != nil {
					handleSessionError(err)
					return
				}
				c.Println("Account updated successfully.")
			},
		},
		{
			Name: "signout",
			Desc: "Sign out from your account",
			Func: func(c *ishell.Context) {
				err := client.SignOut()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("You are now signed out.")
				switchToGuestCommands()
			},
		},
	}

	// Define common commands that are always available, regardless of login state
	commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Goodbye!")
				os.Exit(0)
			},
		},
	}

	// The help command is created separately to avoid the cyclic dependency
	commonCommands = append(commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			if loggedIn {
				for _, command := range userCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			} else {
				for _, command := range guestCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			}
			for _, command := range commonCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			c.Println()
		},
	})
}

// addCommands is a helper function that adds the given commands to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: "Command: " + command.Name,
			Func: command.Func,
		})
	}
}

// Execute is the main function that executes the shell.
// It welcomes the user, adds common and guest commands to the shell, and runs the shell.
func Execute() {
	shell.Println()
	figure.NewFigure("Ritmo", "basic", true).Print()
	shell.Println("Welcome to Ritmo -- the habit tracker CLI app. Type 'help' to see a list of commands.")

	addCommands(shell, commonCommands)
	addCommands(shell, guestCommands)

	shell.Run()
}
