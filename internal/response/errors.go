package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrAdminAccessOnly     ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionAlreadyActive  ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrExamNotAvailable      ErrCode = "EXAM_NOT_AVAILABLE"
	ErrInsufficientQuestions ErrCode = "INSUFFICIENT_QUESTIONS"
	ErrSessionNotActive      ErrCode = "SESSION_NOT_ACTIVE"
	ErrUnknownQuestion       ErrCode = "UNKNOWN_QUESTION"
	ErrResultsNotReady       ErrCode = "RESULTS_NOT_READY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Un jeton d'authentification est requis."
	case ErrTokenInvalid:
		return "Le jeton d'authentification est invalide."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Vous n'avez pas l'autorisation d'accéder à cette ressource."
	case ErrCandidateAccessOnly:
		return "Cette ressource est réservée aux candidats."
	case ErrAdminAccessOnly:
		return "Cette ressource est réservée aux administrateurs."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "La validation a échoué. Veuillez vérifier votre saisie."
	case ErrInvalidID:
		return "Le format de l'identifiant est invalide."
	case ErrInvalidPayload:
		return "Le corps de la requête est invalide."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Ressource introuvable."
	case ErrConflict:
		return "La ressource existe déjà."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionAlreadyActive:
		return "Une session est déjà en cours pour cette épreuve."
	case ErrExamNotAvailable:
		return "Cette épreuve n'est pas disponible actuellement."
	case ErrInsufficientQuestions:
		return "La banque de questions est insuffisante pour cette épreuve."
	case ErrSessionNotActive:
		return "Cette session est terminée. Aucune modification n'est possible."
	case ErrUnknownQuestion:
		return "Cette question ne fait pas partie de votre session."
	case ErrResultsNotReady:
		return "Les résultats sont en cours de calcul. Veuillez patienter."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Trop de requêtes. Veuillez réessayer plus tard."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Une erreur interne du serveur s'est produite."
	default:
		return "Une erreur inattendue s'est produite."
	}
}
