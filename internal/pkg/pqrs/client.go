package pqrs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/firmaentrega/backend/internal/pkg/env"
)

// Client talks to the external PQRS claim-ticketing system. The system
// itself is an external collaborator; only this request/response contract is
// part of the protocol.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// ClaimRequest is the metadata plus stored file paths the ticketing system
// expects when opening a claim.
type ClaimRequest struct {
	OrderID           string   `json:"order_id"`
	InvoiceNumber     string   `json:"invoice_number"`
	ProductReference  string   `json:"product_reference"`
	DefectiveQuantity int      `json:"defective_quantity"`
	Description       string   `json:"description"`
	ClaimantName      string   `json:"claimant_name"`
	ClaimantContact   string   `json:"claimant_contact"`
	EvidencePaths     []string `json:"evidence_paths"`
	GuidePath         string   `json:"guide_path"`
}

// ClaimResponse is the ticket reference returned by the ticketing system.
type ClaimResponse struct {
	TicketID     string `json:"ticket_id"`
	TicketNumber string `json:"ticket_number"`
}

// NewClientFromEnv builds a client from environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(env.GetEnv("PQRS_BASE_URL", ""), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("PQRS_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// OpenClaim opens a claim ticket and returns its reference.
func (c *Client) OpenClaim(ctx context.Context, req ClaimRequest) (*ClaimResponse, error) {
	if c.BaseURL == "" {
		return nil, errors.New("PQRS_BASE_URL is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode claim request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/claims", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build claim request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach PQRS system: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("PQRS system returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var claim ClaimResponse
	if err := json.NewDecoder(resp.Body).Decode(&claim); err != nil {
		return nil, fmt.Errorf("failed to decode claim response: %w", err)
	}
	if claim.TicketID == "" {
		return nil, errors.New("PQRS system returned an empty ticket id")
	}
	return &claim, nil
}
