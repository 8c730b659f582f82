// Package services – deployment engine.
//
// Deployment materializes approved generated items into the external
// question-bank schema. Each item deploys inside its own transaction so a
// failing item never poisons its neighbors; the run aggregates per-item
// outcomes and errors only when nothing deployed at all.
//
// Per-item guarantees:
//   - Idempotency: an item with a live deployment record whose bank
//     question still exists is a no-op returning the existing question ID.
//   - Stale-link healing: if the bank question vanished out-of-band, the
//     record and the item's link are cleared and the item redeploys fresh.
//   - Duplicate adoption: identical content already present in the target
//     category is adopted (linked) instead of duplicated.
//   - Verification: the just-written record and question are re-read inside
//     the transaction; a mismatch rolls everything back.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lmsforge/quizgen-backend/internal/domain"
	"github.com/lmsforge/quizgen-backend/internal/repo"
)

// Per-item deployment outcomes, recorded in metrics and audit details.
const (
	deployOutcomeCreated = "created"
	deployOutcomeAdopted = "adopted"
	deployOutcomeNoop    = "noop"
	deployOutcomeFailed  = "failed"
)

// DeploymentConfig names the fixed levels of the category hierarchy. The
// resolved chain for an item is top -> default -> (optional) target.
type DeploymentConfig struct {
	// TopCategory is the per-scope root under which all generated
	// questions live.
	TopCategory string
	// DefaultCategory is the per-scope default beneath the top level, used
	// when the caller names no target.
	DefaultCategory string
}

// DefaultDeploymentConfig returns the stock category names.
func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		TopCategory:     "Generated Questions",
		DefaultCategory: "Default",
	}
}

// DeploymentService deploys approved items into the question bank.
type DeploymentService struct {
	DB  *gorm.DB
	Cfg DeploymentConfig

	// verify re-reads the just-written link inside the transaction; any
	// failure rolls the whole item back. Swappable in tests.
	verify func(ctx context.Context, tx *gorm.DB, itemID, bankID string, item *domain.GeneratedItem) error
}

// NewDeploymentService constructs a DeploymentService.
func NewDeploymentService(db *gorm.DB, cfg DeploymentConfig) *DeploymentService {
	if cfg.TopCategory == "" {
		cfg.TopCategory = DefaultDeploymentConfig().TopCategory
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = DefaultDeploymentConfig().DefaultCategory
	}
	return &DeploymentService{DB: db, Cfg: cfg, verify: verifyWrittenLink}
}

// verifyWrittenLink re-reads the deployment record and the bank question it
// points at, inside the transaction that just wrote them, and confirms the
// chain carries the item's content.
func verifyWrittenLink(ctx context.Context, tx *gorm.DB, itemID, bankID string, item *domain.GeneratedItem) error {
	rec, err := repo.GetDeploymentRecordByItem(ctx, tx, itemID)
	if err != nil || rec.BankQuestionID != bankID {
		return ErrDeployVerification
	}
	q, err := repo.GetBankQuestion(ctx, tx, bankID)
	if err != nil || q.Text != item.Text || q.QType != item.Type {
		return ErrDeployVerification
	}
	return nil
}

// Deploy materializes the given items into the bank for scopeID, optionally
// under targetCategory beneath the scope default. Every item is attempted;
// the report carries per-item outcomes. The returned error is non-nil only
// when zero items deployed successfully (an *AggregateDeployError), or when
// the input is empty.
func (s *DeploymentService) Deploy(ctx context.Context, actorID, scopeID string, itemIDs []string, targetCategory string) (*DeploymentReport, error) {
	tr := otel.Tracer("services/DeploymentService")
	ctx, span := tr.Start(ctx, "Deploy",
		trace.WithAttributes(
			attribute.String("scope.id", scopeID),
			attribute.Int("items", len(itemIDs)),
		),
	)
	defer span.End()

	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: no items to deploy", ErrValidation)
	}

	report := &DeploymentReport{
		Deployed: make(map[string]string),
		Failed:   make(map[string]string),
	}

	for _, itemID := range itemIDs {
		bankID, outcome, err := s.deployItem(ctx, scopeID, itemID, targetCategory)
		if err != nil {
			report.Failed[itemID] = err.Error()
			deployments.WithLabelValues(deployOutcomeFailed).Inc()
			log.Error().Err(err).
				Str("item_id", itemID).
				Str("scope_id", scopeID).
				Msg("item deployment failed")
			continue
		}
		report.Deployed[itemID] = bankID
		deployments.WithLabelValues(outcome).Inc()

		// Side effects after the committed transaction are best effort.
		details := fmt.Sprintf("outcome=%s bank_question=%s scope=%s", outcome, bankID, scopeID)
		if aerr := repo.AppendAudit(ctx, s.DB, actorID, "deployment.item", itemID, details); aerr != nil {
			log.Warn().Err(aerr).Str("item_id", itemID).Msg("deployment audit append failed")
		}
		log.Info().
			Str("item_id", itemID).
			Str("bank_question_id", bankID).
			Str("outcome", outcome).
			Msg("item deployed")
	}

	if len(report.Deployed) == 0 {
		return report, &AggregateDeployError{Failures: report.Failed}
	}
	return report, nil
}

// deployItem runs the single-item deployment and returns the bank question
// ID and the outcome label.
func (s *DeploymentService) deployItem(ctx context.Context, scopeID, itemID, targetCategory string) (string, string, error) {
	item, err := repo.GetItem(ctx, s.DB, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrItemNotFound
		}
		return "", "", &PersistenceError{Op: "load item", Err: err}
	}

	// Only approved items deploy; already-deployed items pass through for
	// the idempotency check below.
	if item.ReviewStatus != domain.ReviewApproved && item.ReviewStatus != domain.ReviewDeployed {
		return "", "", fmt.Errorf("%w: review status %q", ErrNotApproved, item.ReviewStatus)
	}

	// Idempotency: a live record pointing at an existing question is done.
	if rec, rerr := repo.GetDeploymentRecordByItem(ctx, s.DB, itemID); rerr == nil {
		if _, qerr := repo.GetBankQuestion(ctx, s.DB, rec.BankQuestionID); qerr == nil {
			return rec.BankQuestionID, deployOutcomeNoop, nil
		} else if !errors.Is(qerr, gorm.ErrRecordNotFound) {
			return "", "", &PersistenceError{Op: "verify existing bank question", Err: qerr}
		}
		// The bank question was removed out-of-band: clear the stale link
		// and redeploy from scratch.
		if cerr := s.clearStaleLink(ctx, itemID); cerr != nil {
			return "", "", cerr
		}
		log.Warn().
			Str("item_id", itemID).
			Str("bank_question_id", rec.BankQuestionID).
			Msg("stale deployment link cleared; redeploying")
	} else if !errors.Is(rerr, gorm.ErrRecordNotFound) {
		return "", "", &PersistenceError{Op: "load deployment record", Err: rerr}
	}

	var (
		bankID  string
		outcome string
	)
	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		category, cerr := s.resolveCategory(ctx, tx, scopeID, targetCategory)
		if cerr != nil {
			return cerr
		}

		// Adopt identical content already in the category rather than
		// creating a duplicate (left behind by an interrupted deployment).
		if existing, ferr := repo.FindBankQuestionByContent(ctx, tx, category.ID, item.Type, item.Text); ferr == nil {
			bankID = existing.ID
			outcome = deployOutcomeAdopted
		} else if !errors.Is(ferr, gorm.ErrRecordNotFound) {
			return &PersistenceError{Op: "search duplicate question", Err: ferr}
		} else {
			created, werr := s.writeBankQuestion(ctx, tx, category.ID, item)
			if werr != nil {
				return werr
			}
			bankID = created
			outcome = deployOutcomeCreated
		}

		if _, derr := repo.CreateDeploymentRecord(ctx, tx, &domain.DeploymentRecord{
			ItemID:         itemID,
			CategoryID:     category.ID,
			BankQuestionID: bankID,
			Version:        1,
			Status:         domain.VersionStatusReady,
		}); derr != nil {
			return &PersistenceError{Op: "create deployment record", Err: derr}
		}
		if lerr := repo.UpdateItemBankLink(ctx, tx, itemID, &bankID); lerr != nil {
			return &PersistenceError{Op: "link item", Err: lerr}
		}
		if rerr := repo.UpdateItemReview(ctx, tx, itemID, domain.ReviewDeployed); rerr != nil {
			return &PersistenceError{Op: "mark item deployed", Err: rerr}
		}
		// Verify last: the link just written must be readable and point at
		// a question carrying the item's content.
		return s.verify(ctx, tx, itemID, bankID, item)
	})
	if txErr != nil {
		return "", "", txErr
	}
	return bankID, outcome, nil
}

// clearStaleLink removes the dangling deployment record and the item's bank
// link together.
func (s *DeploymentService) clearStaleLink(ctx context.Context, itemID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if derr := repo.DeleteDeploymentRecord(ctx, tx, itemID); derr != nil {
			return derr
		}
		return repo.UpdateItemBankLink(ctx, tx, itemID, nil)
	})
	if err != nil {
		return &PersistenceError{Op: "clear stale link", Err: err}
	}
	return nil
}

// resolveCategory walks the fixed hierarchy top -> default -> target,
// creating missing levels. targetCategory == "" stops at the default level.
func (s *DeploymentService) resolveCategory(ctx context.Context, tx *gorm.DB, scopeID, targetCategory string) (*domain.BankCategory, error) {
	top, err := repo.FindOrCreateCategory(ctx, tx, scopeID, "", s.Cfg.TopCategory)
	if err != nil {
		return nil, &PersistenceError{Op: "resolve top category", Err: err}
	}
	def, err := repo.FindOrCreateCategory(ctx, tx, scopeID, top.ID, s.Cfg.DefaultCategory)
	if err != nil {
		return nil, &PersistenceError{Op: "resolve default category", Err: err}
	}
	if targetCategory == "" {
		return def, nil
	}
	target, err := repo.FindOrCreateCategory(ctx, tx, scopeID, def.ID, targetCategory)
	if err != nil {
		return nil, &PersistenceError{Op: "resolve target category", Err: err}
	}
	return target, nil
}

// writeBankQuestion creates the question, its answers, and its initial
// ready version inside the caller's transaction.
func (s *DeploymentService) writeBankQuestion(ctx context.Context, tx *gorm.DB, categoryID string, item *domain.GeneratedItem) (string, error) {
	q, err := repo.CreateBankQuestion(ctx, tx, &domain.BankQuestion{
		CategoryID:      categoryID,
		QType:           item.Type,
		Name:            item.Name,
		Text:            item.Text,
		GeneralFeedback: item.GeneralFeedback,
	})
	if err != nil {
		return "", &PersistenceError{Op: "create bank question", Err: err}
	}

	options, err := repo.ListItemOptions(ctx, tx, item.ID)
	if err != nil {
		return "", &PersistenceError{Op: "load item options", Err: err}
	}
	answers := make([]domain.BankAnswer, 0, len(options))
	for _, o := range options {
		answers = append(answers, domain.BankAnswer{
			Text:     o.Text,
			Fraction: o.Fraction,
			Feedback: o.Feedback,
		})
	}
	if err := repo.CreateBankAnswers(ctx, tx, q.ID, answers); err != nil {
		return "", &PersistenceError{Op: "create bank answers", Err: err}
	}

	if _, err := repo.CreateBankQuestionVersion(ctx, tx, q.ID, 1, domain.VersionStatusReady); err != nil {
		return "", &PersistenceError{Op: "create question version", Err: err}
	}
	return q.ID, nil
}
