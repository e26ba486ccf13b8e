package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrTransient: Verbindungsfehler, nach Reconnect wiederholbar.
	ErrTransient = errors.New("transient connectivity error")
	// ErrConstraint: Verletzung von Primär- oder Fremdschlüssel.
	ErrConstraint = errors.New("constraint violation")
	// ErrValidation: ungültige Eingabe, abgelehnt vor jedem Datenbankzugriff.
	ErrValidation = errors.New("validation error")
	// ErrDuplicateKey: ein Overwrite-Batch enthält denselben Schlüssel mehrfach.
	ErrDuplicateKey = errors.Join(ErrValidation, errors.New("duplicate key in merge batch"))
)

func validationErrorf(format string, args ...any) error {
	return errors.Join(ErrValidation, fmt.Errorf(format, args...))
}

// IsTransient meldet, ob err ein Verbindungsfehler ist, der sich mit einer
// frischen Verbindung wiederholen lässt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case strings.HasPrefix(code, "08"): // connection_exception
			return true
		case code == "57P01", code == "57P02", code == "57P03": // Shutdown oder Crash, gerade keine Verbindung möglich
			return true
		}
		return false
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"conn closed",
		"connection reset",
		"broken pipe",
		"ssl connection has been closed",
		"terminating connection",
		"idle-session timeout",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsConstraint meldet eine Integritätsverletzung.
func IsConstraint(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return errors.Is(err, ErrConstraint)
}

// Classify hängt die Fehlerklasse an err, damit Aufrufer errors.Is nutzen können.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrTransient), errors.Is(err, ErrConstraint):
		return err
	case IsConstraint(err):
		return errors.Join(ErrConstraint, err)
	case IsTransient(err):
		return errors.Join(ErrTransient, err)
	}
	return err
}
