package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/audit"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/otp"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
)

var otpManager *otp.Manager

// InitializeSessionController wires the OTP manager with the global
// repositories and the Redis challenge store
func InitializeSessionController() {
	repos := repository.GetGlobalRepositories()
	otpManager = otp.NewManager(repos, otp.NewRedisChallengeStore(), audit.NewLogger(repos.Audit, "courier"))
}

// HandleStartChallenge issues an OTP challenge for a QR token.
func HandleStartChallenge(c *fiber.Ctx) error {
	ref := c.Params("ref")
	if ref == "" {
		return respondError(c, confirm.NewError(confirm.KindValidation, "missing QR reference"))
	}

	result, err := otpManager.StartChallenge(c.Context(), ref, requestmeta.Get(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleVerifyOtp verifies the OTP code of a challenge and returns the raw
// session token. The token is shown exactly once; only its hash is stored.
func HandleVerifyOtp(c *fiber.Ctx) error {
	challengeID := c.Params("id")
	if challengeID == "" {
		return respondError(c, confirm.NewError(confirm.KindValidation, "missing challenge id"))
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, confirm.NewError(confirm.KindValidation, "invalid request body"))
	}
	if req.Code == "" {
		return respondError(c, confirm.NewError(confirm.KindValidation, "code is required"))
	}

	result, err := otpManager.VerifyOtp(c.Context(), challengeID, req.Code, requestmeta.Get(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
