package data

import "time"

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message status lifecycle: received -> processing -> responded | failed.
const (
	StatusReceived   = "received"
	StatusProcessing = "processing"
	StatusResponded  = "responded"
	StatusFailed     = "failed"
)

// Document processing states.
const (
	DocumentPending   = "pending"
	DocumentProcessed = "processed"
	DocumentFailed    = "failed"
)

// Business is a tenant account with its WhatsApp identity and AI settings.
type Business struct {
	ID                  int64     `json:"id"`
	UserID              int64     `json:"user_id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	WebsiteURL          string    `json:"website_url,omitempty"`
	WhatsAppPhoneNumber string    `json:"whatsapp_phone_number,omitempty"`
	BusinessCategory    string    `json:"business_category,omitempty"`
	AIPersona           string    `json:"ai_persona,omitempty"`
	SupportedLanguages  []string  `json:"supported_languages"`
	DefaultLanguage     string    `json:"default_language"`
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Message is one WhatsApp message, inbound or outbound.
type Message struct {
	ID                int64     `json:"id"`
	BusinessID        int64     `json:"business_id"`
	WhatsAppMessageID string    `json:"whatsapp_message_id,omitempty"`
	Direction         string    `json:"direction"`
	Content           string    `json:"content"`
	ContentType       string    `json:"content_type"`
	LanguageDetected  string    `json:"language_detected,omitempty"`
	SenderPhone       string    `json:"sender_phone,omitempty"`
	RecipientPhone    string    `json:"recipient_phone,omitempty"`
	SenderName        string    `json:"sender_name,omitempty"`
	Status            string    `json:"status"`
	AIResponse        string    `json:"ai_response,omitempty"`
	ProcessingTimeMs  int64     `json:"processing_time_ms,omitempty"`
	ConfidenceScore   int       `json:"confidence_score,omitempty"`
	Metadata          string    `json:"metadata,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Document is an uploaded knowledge document whose extracted text feeds the
// vector index.
type Document struct {
	ID              int64     `json:"id"`
	BusinessID      int64     `json:"business_id"`
	Name            string    `json:"name"`
	Content         string    `json:"content,omitempty"`
	Status          string    `json:"status"`
	ProcessingError string    `json:"processing_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SheetConnection links a tenant to a public Google Sheet.
type SheetConnection struct {
	ID              int64      `json:"id"`
	BusinessID      int64      `json:"business_id"`
	Name            string     `json:"name"`
	SheetURL        string     `json:"sheet_url"`
	SheetID         string     `json:"sheet_id"`
	CacheTTLMinutes int        `json:"cache_ttl_minutes"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	LastSyncError   string     `json:"last_sync_error,omitempty"`
	RowCount        int        `json:"row_count"`
	ColumnCount     int        `json:"column_count"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
