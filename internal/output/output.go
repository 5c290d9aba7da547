// Package output provides styled terminal output helpers (success, error,
// warning, queue and lock formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nadia/dcap/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[models.DocumentStatus]lipgloss.Style{
		models.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusExtracted: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.StatusValidated: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusExported:  lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		models.StatusRejected:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	lockStyles = map[models.LockState]lipgloss.Style{
		models.LockedBySelf:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.LockedByOther: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.Unlocked:      lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeOffline       = "offline"
	ErrCodeDatabaseError = "database_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// FormatStatus formats a document status with color
func FormatStatus(s models.DocumentStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatLockState formats a lock state with color
func FormatLockState(s models.LockState) string {
	style, ok := lockStyles[s]
	if !ok {
		return s.String()
	}
	return style.Render(s.String())
}

// FormatLock renders one line describing a lock and its holder.
func FormatLock(lock *models.DocumentLock, selfSessionID string) string {
	if lock == nil {
		return lockStyles[models.Unlocked].Render("unlocked")
	}
	holder := lock.HolderUserID
	if holder == "" {
		holder = lock.HolderSessionID
	}
	state := models.LockedByOther
	if lock.HolderSessionID == selfSessionID {
		state = models.LockedBySelf
		holder = "you"
	}
	return fmt.Sprintf("%s  held by %s, expires %s",
		FormatLockState(state), holder, FormatTimeUntil(lock.ExpiresAt))
}

// FormatActionShort formats a queued action in short format
func FormatActionShort(a *models.OfflineAction) string {
	var parts []string
	parts = append(parts, titleStyle.Render(shortID(a.ID)))
	parts = append(parts, string(a.Kind))
	parts = append(parts, a.TargetID)
	parts = append(parts, subtleStyle.Render(FormatTimeAgo(a.EnqueuedAt)))
	if a.RetryCount > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d retries", a.RetryCount)))
	}
	return strings.Join(parts, "  ")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// FormatTimeUntil formats a future time as a human-readable "in" string.
func FormatTimeUntil(t time.Time) string {
	diff := time.Until(t)
	switch {
	case diff <= 0:
		return "already expired"
	case diff < time.Minute:
		return fmt.Sprintf("in %ds", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("in %dm", int(diff.Minutes()))
	default:
		return fmt.Sprintf("in %dh%dm", int(diff.Hours()), int(diff.Minutes())%60)
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPENDING ACTIONS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// shortID trims a UUID down to its first group for one-line listings.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
