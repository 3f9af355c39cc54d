package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/evidence"
	"github.com/firmaentrega/backend/internal/pkg/s3evidence"
)

// processEvidenceRetryJob regenerates the evidence document of one
// confirmation. Generation is deterministic, so a retry that races a
// successful earlier attempt overwrites the object with identical bytes.
func (q *Queue) processEvidenceRetryJob(ctx context.Context, job *Job) error {
	payload, err := EvidenceRetryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse evidence retry job payload: %w", err)
	}

	log.Infof("[EvidenceRetry] Processing confirmation %d (order %s)", payload.ConfirmationID, payload.OrderID)

	repos := repository.GetGlobalRepositories()
	if repos == nil {
		return fmt.Errorf("repository factory not initialized")
	}

	conf, err := repos.Confirmation.GetByID(payload.ConfirmationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing to regenerate; treat as done
			log.Warnf("[EvidenceRetry] Confirmation %d no longer exists", payload.ConfirmationID)
			return nil
		}
		return fmt.Errorf("failed to load confirmation %d: %w", payload.ConfirmationID, err)
	}
	if conf.HasEvidence() {
		return nil
	}

	token, err := repos.QrToken.GetByID(conf.QrID)
	if err != nil {
		return fmt.Errorf("failed to load QR token %d: %w", conf.QrID, err)
	}

	var ticketNumber string
	if incident, ierr := repos.Incident.GetByConfirmationID(conf.ID); ierr == nil {
		ticketNumber = incident.PqrsTicketNumber
	} else if !errors.Is(ierr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load incident for confirmation %d: %w", conf.ID, ierr)
	}

	config, err := s3evidence.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load evidence storage config: %w", err)
	}
	client, err := s3evidence.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create evidence storage client: %w", err)
	}

	generator := evidence.NewGenerator(client)
	path, checksum, err := generator.Write(ctx, token, conf, ticketNumber)
	if err != nil {
		return fmt.Errorf("failed to regenerate evidence for confirmation %d: %w", conf.ID, err)
	}

	if err := repos.Confirmation.AttachEvidence(conf.ID, path, checksum); err != nil {
		return fmt.Errorf("failed to attach evidence to confirmation %d: %w", conf.ID, err)
	}

	log.Infof("[EvidenceRetry] Attached evidence %s to confirmation %d", path, conf.ID)
	return nil
}
