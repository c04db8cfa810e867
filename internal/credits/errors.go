package credits

import (
	"errors"

	"carbon-ledger/registry-backend/pkg/safemath"
)

var (
	// ErrProjectNotFound is returned when the project id has no record.
	ErrProjectNotFound = errors.New("project not found")
	// ErrProjectIDInUse is returned when creating a project with a taken id.
	ErrProjectIDInUse = errors.New("project id already in use")
	// ErrInvalidProjectID is returned when the id is below the configured minimum.
	ErrInvalidProjectID = errors.New("project id below configured minimum")
	// ErrNotAuthorised is returned when the caller lacks the required role.
	ErrNotAuthorised = errors.New("caller not authorised")
	// ErrKYCAuthorisationFailed is returned when the account has not passed KYC.
	ErrKYCAuthorisationFailed = errors.New("account failed KYC check")
	// ErrTooManyAuthorizedAccounts is returned when the allowlist is full.
	ErrTooManyAuthorizedAccounts = errors.New("authorized account list full")
	// ErrAuthorizedAccountExists is returned on duplicate allowlist inserts.
	ErrAuthorizedAccountExists = errors.New("authorized account already exists")
	// ErrProjectNotApproved is returned when minting or retiring against a
	// project that has not been approved.
	ErrProjectNotApproved = errors.New("project not approved")
	// ErrApprovalAlreadyProcessed is returned when approving or rejecting a
	// project whose review has already been decided.
	ErrApprovalAlreadyProcessed = errors.New("project approval already processed")
	// ErrCannotModifyApprovedProject is returned when resubmitting an
	// approved project.
	ErrCannotModifyApprovedProject = errors.New("cannot modify an approved project")
	// ErrCannotUpdateUnapprovedProject is returned when updating a project
	// that is still pending or rejected; those must be resubmitted instead.
	ErrCannotUpdateUnapprovedProject = errors.New("cannot update an unapproved project")
	// ErrGroupNotFound is returned when the group id is not in the project.
	ErrGroupNotFound = errors.New("batch group not found")
	// ErrTooManyGroups is returned when the group map capacity is exceeded.
	ErrTooManyGroups = errors.New("too many batch groups")
	// ErrTooManyBatches is returned when a group holds more batches than permitted.
	ErrTooManyBatches = errors.New("too many batches in group")
	// ErrProjectWithoutCredits is returned when a submitted group has no
	// usable supply or carries nonzero counters.
	ErrProjectWithoutCredits = errors.New("cannot create project without credits")
	// ErrAmountGreaterThanSupply is returned when a mint or retire would push
	// a counter past its bound.
	ErrAmountGreaterThanSupply = errors.New("amount greater than available supply")
	// ErrStringTooLong is returned on bounded-length violations.
	ErrStringTooLong = errors.New("string exceeds permitted length")
	// ErrTooManyDocuments is returned when a media/document list is too long.
	ErrTooManyDocuments = errors.New("too many document references")
	// ErrTooManyRoyaltyRecipients is returned when the royalty list is too long.
	ErrTooManyRoyaltyRecipients = errors.New("too many royalty recipients")
	// ErrTooManySDGs is returned when more SDGs are listed than exist.
	ErrTooManySDGs = errors.New("too many sdg entries")
	// ErrTooManyRegistries is returned when the registry list is too long.
	ErrTooManyRegistries = errors.New("too many registry entries")
	// ErrRetirementReasonOutOfBounds is returned for oversized retire reasons.
	ErrRetirementReasonOutOfBounds = errors.New("retirement reason exceeds permitted length")
	// ErrRetirementNotFound is returned when a receipt lookup misses.
	ErrRetirementNotFound = errors.New("retirement record not found")

	// ErrOverflow is surfaced when checked arithmetic would wrap.
	ErrOverflow = safemath.ErrOverflow
)
