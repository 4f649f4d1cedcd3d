// Package domain defines the plant record and watering date arithmetic.
package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Plant is one tracked houseplant, owned by the chat whose document holds it.
// The bson keys are the stable storage schema; documents written by earlier
// deployments use exactly these field names.
type Plant struct {
	Nickname       string   `bson:"nickname" json:"nickname"`
	ScientificName string   `bson:"scientific_name" json:"scientific_name"`
	IntervalDays   float64  `bson:"interval" json:"interval"`
	LastWatered    string   `bson:"last_watered" json:"last_watered"`
	Photo          string   `bson:"photo,omitempty" json:"photo,omitempty"`
	History        []string `bson:"history,omitempty" json:"history,omitempty"`
	ReminderSent   bool     `bson:"reminder_sent,omitempty" json:"reminder_sent,omitempty"`
}

// Validate reports whether the record carries every required field. Partial
// drafts must never reach the store.
func (p Plant) Validate() error {
	if strings.TrimSpace(p.Nickname) == "" {
		return errors.New("nickname is required")
	}
	if strings.TrimSpace(p.ScientificName) == "" {
		return errors.New("scientific name is required")
	}
	// NaN compares false against everything, so it must be rejected
	// explicitly before the range check.
	if math.IsNaN(p.IntervalDays) || math.IsInf(p.IntervalDays, 0) || p.IntervalDays <= 0 {
		return errors.New("interval must be a positive number of days")
	}
	if _, err := p.LastWateredAt(); err != nil {
		return fmt.Errorf("last watered: %w", err)
	}
	return nil
}

// LastWateredAt parses the stored RFC 3339 watering instant.
func (p Plant) LastWateredAt() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, p.LastWatered)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last watered %q: %w", p.LastWatered, err)
	}
	return ts, nil
}

// MarkWatered records a watering at the given instant: the cycle restarts,
// the instant is appended to the history, and any pending reminder flag is
// cleared.
func (p *Plant) MarkWatered(now time.Time) {
	stamp := now.UTC().Format(time.RFC3339)
	p.LastWatered = stamp
	p.History = append(p.History, stamp)
	p.ReminderSent = false
}

// HasNickname matches the nickname case-insensitively.
func (p Plant) HasNickname(nickname string) bool {
	return strings.EqualFold(strings.TrimSpace(p.Nickname), strings.TrimSpace(nickname))
}

// HasPhotoURL reports whether the photo reference is a plain http(s) link,
// as opposed to a Telegram file id or free text.
func (p Plant) HasPhotoURL() bool {
	return strings.HasPrefix(p.Photo, "http://") || strings.HasPrefix(p.Photo, "https://")
}

// DueDate returns the next watering instant, or an error when the stored
// last-watered value does not parse.
func (p Plant) DueDate() (time.Time, error) {
	last, err := p.LastWateredAt()
	if err != nil {
		return time.Time{}, err
	}
	return NextDue(last, p.IntervalDays), nil
}

// DaysUntil returns the whole days remaining until this plant is due.
func (p Plant) DaysUntil(now time.Time) (int, error) {
	last, err := p.LastWateredAt()
	if err != nil {
		return 0, err
	}
	return DaysUntilDue(last, p.IntervalDays, now), nil
}

// NeedsWater reports whether the due date has been reached.
func (p Plant) NeedsWater(now time.Time) (bool, error) {
	due, err := p.DueDate()
	if err != nil {
		return false, err
	}
	return !now.Before(due), nil
}

// Overdue reports whether the due date is strictly in the past; the detail
// view shows "em dia" until the due instant itself has passed.
func (p Plant) Overdue(now time.Time) (bool, error) {
	due, err := p.DueDate()
	if err != nil {
		return false, err
	}
	return now.After(due), nil
}
