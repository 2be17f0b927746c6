// Package services implements the hub's business logic: the moderation
// pipeline, achievements, notifications, mods, comments, and users.
// This file centralizes the service-level error values so that they can be
// returned consistently and mapped to HTTP results by the handler layer.
package services

import "errors"

// Lookup errors.
var (
	// ErrModNotFound indicates that the mod does not exist or is not visible
	// to the caller.
	ErrModNotFound = errors.New("mod not found")

	// ErrUserNotFound indicates that the user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrAchievementNotFound indicates that the achievement does not exist.
	ErrAchievementNotFound = errors.New("achievement not found")

	// ErrNotificationNotFound indicates that the notification does not exist
	// or belongs to another user.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrCommentNotFound indicates that the comment does not exist.
	ErrCommentNotFound = errors.New("comment not found")
)

// Rule violations.
var (
	// ErrAlreadyReviewed is returned when a moderation decision would give a
	// mod a second terminal outcome.
	ErrAlreadyReviewed = errors.New("mod already reviewed")

	// ErrForbidden is returned when the caller may not act on the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidMod is returned when mod input fails validation.
	ErrInvalidMod = errors.New("invalid mod")

	// ErrSlugTaken is returned when no free slug could be derived.
	ErrSlugTaken = errors.New("slug already taken")

	// ErrEmptyComment is returned for a blank comment body.
	ErrEmptyComment = errors.New("comment is empty")

	// ErrTooLong is returned when text exceeds its configured limit.
	ErrTooLong = errors.New("text too long")
)
