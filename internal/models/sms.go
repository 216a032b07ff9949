package models

import (
	"time"

	"github.com/google/uuid"
)

// SMS transaction processing states.
const (
	SmsStatusReceived  = "received"
	SmsStatusProcessed = "processed"
	SmsStatusFailed    = "failed"
	SmsStatusIgnored   = "ignored"
)

// Unmatched transaction states.
const (
	UnmatchedStatusUnmatched = "unmatched"
	UnmatchedStatusMatched   = "matched"
	UnmatchedStatusIgnored   = "ignored"
)

// SmsTransaction is one ingested bank notification. The triple
// (ParsedAmount, ParsedPayerName, ParsedTime) is unique; a repeat is a
// duplicate delivery, not a new transaction. Rows are immutable once they
// reach processed or failed.
type SmsTransaction struct {
	ID               uuid.UUID  `json:"id"`
	RawText          string     `json:"raw_text"`
	ParsedAmount     int64      `json:"parsed_amount"`
	ParsedPayerName  string     `json:"parsed_payer_name"`
	ParsedTime       time.Time  `json:"parsed_time"`
	Status           string     `json:"status"`
	MatchedDepositID *uuid.UUID `json:"matched_deposit_id,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// UnmatchedTransaction is a parsed deposit that found no pending request at
// ingestion time. It waits for manual resolution until ExpiresAt (180 days).
type UnmatchedTransaction struct {
	ID              uuid.UUID  `json:"id"`
	RawText         string     `json:"raw_text"`
	ParsedAmount    int64      `json:"parsed_amount"`
	ParsedPayerName string     `json:"parsed_payer_name"`
	ParsedTime      time.Time  `json:"parsed_time"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	MatchedUserID   *uuid.UUID `json:"matched_user_id,omitempty"`
	MatchedAt       *time.Time `json:"matched_at,omitempty"`
}
