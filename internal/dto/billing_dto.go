package dto

import (
	"time"

	"github.com/google/uuid"
)

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	// Code is a stable machine-readable reason, e.g. insufficient_balance.
	Code string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
	PlanCount int    `json:"plan_count"`
}

type SignupRequest struct {
	BusinessName  string `json:"business_name"`
	OwnerEmail    string `json:"owner_email"`
	OwnerPassword string `json:"owner_password"`
	OwnerName     string `json:"owner_name"`
}

type SignupResponse struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Slug           string    `json:"slug"`
	OwnerID        uuid.UUID `json:"owner_id"`
	AccessToken    string    `json:"access_token,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
}

type BalanceResponse struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Balance        int64     `json:"balance"`
}

type ConsumeRequest struct {
	FeatureType string `json:"feature_type"`
	CreditCost  int64  `json:"credit_cost"`
}

type ConsumeResponse struct {
	EntryID uuid.UUID `json:"entry_id"`
	Balance int64     `json:"balance"`
}

type LedgerEntryResponse struct {
	ID          uuid.UUID `json:"id"`
	Amount      int64     `json:"amount"`
	Action      string    `json:"action"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	FeatureType string    `json:"feature_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type LedgerResponse struct {
	Entries []LedgerEntryResponse `json:"entries"`
	Total   int64                 `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	AccessToken string    `json:"access_token"`
}
