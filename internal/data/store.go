package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// nullString converts an empty string to a SQL NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ═══════════════════════════════════════════════════════════════════════════════
// BUSINESS OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// CreateBusiness inserts a tenant and returns its assigned ID.
func (s *Store) CreateBusiness(ctx context.Context, b *Business) (int64, error) {
	if b.Name == "" {
		return 0, fmt.Errorf("business name cannot be empty")
	}

	languages := b.SupportedLanguages
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	languagesJSON, err := json.Marshal(languages)
	if err != nil {
		return 0, fmt.Errorf("marshal supported languages: %w", err)
	}

	defaultLanguage := b.DefaultLanguage
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (
			user_id, name, description, website_url, whatsapp_phone_number,
			business_category, ai_persona, supported_languages, default_language,
			is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, b.Name, nullString(b.Description), nullString(b.WebsiteURL),
		nullString(b.WhatsAppPhoneNumber), nullString(b.BusinessCategory),
		nullString(b.AIPersona), string(languagesJSON), defaultLanguage,
		b.IsActive, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert business: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read business id: %w", err)
	}
	return id, nil
}

// GetBusiness fetches a tenant by ID.
func (s *Store) GetBusiness(ctx context.Context, id int64) (*Business, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, website_url, whatsapp_phone_number,
		       business_category, ai_persona, supported_languages, default_language,
		       is_active, created_at, updated_at
		FROM businesses WHERE id = ?`, id)
	return scanBusiness(row)
}

// GetBusinessByPhoneNumber resolves the tenant owning a WhatsApp phone
// number. Webhook routing uses this to map inbound traffic to a tenant.
func (s *Store) GetBusinessByPhoneNumber(ctx context.Context, phone string) (*Business, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, website_url, whatsapp_phone_number,
		       business_category, ai_persona, supported_languages, default_language,
		       is_active, created_at, updated_at
		FROM businesses WHERE whatsapp_phone_number = ? AND is_active = 1`, phone)
	return scanBusiness(row)
}

// ListBusinesses returns tenants, optionally only active ones.
func (s *Store) ListBusinesses(ctx context.Context, activeOnly bool) ([]*Business, error) {
	query := `
		SELECT id, user_id, name, description, website_url, whatsapp_phone_number,
		       business_category, ai_persona, supported_languages, default_language,
		       is_active, created_at, updated_at
		FROM businesses`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var businesses []*Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		businesses = append(businesses, b)
	}
	return businesses, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBusiness(row scanner) (*Business, error) {
	var b Business
	var description, websiteURL, phone, category, persona sql.NullString
	var languagesJSON string

	err := row.Scan(&b.ID, &b.UserID, &b.Name, &description, &websiteURL, &phone,
		&category, &persona, &languagesJSON, &b.DefaultLanguage,
		&b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan business: %w", err)
	}

	b.Description = description.String
	b.WebsiteURL = websiteURL.String
	b.WhatsAppPhoneNumber = phone.String
	b.BusinessCategory = category.String
	b.AIPersona = persona.String

	if err := json.Unmarshal([]byte(languagesJSON), &b.SupportedLanguages); err != nil {
		return nil, fmt.Errorf("unmarshal supported languages: %w", err)
	}

	return &b, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// MESSAGE OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// CreateMessage logs a message and returns its ID. Inbound records start in
// status received; the dispatcher advances them from there.
func (s *Store) CreateMessage(ctx context.Context, m *Message) (int64, error) {
	contentType := m.ContentType
	if contentType == "" {
		contentType = "text"
	}
	status := m.Status
	if status == "" {
		status = StatusReceived
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			business_id, whatsapp_message_id, direction, content, content_type,
			language_detected, sender_phone, recipient_phone, sender_name,
			status, ai_response, processing_time_ms, confidence_score, metadata,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.BusinessID, nullString(m.WhatsAppMessageID), m.Direction, m.Content, contentType,
		nullString(m.LanguageDetected), nullString(m.SenderPhone),
		nullString(m.RecipientPhone), nullString(m.SenderName),
		status, nullString(m.AIResponse), m.ProcessingTimeMs, m.ConfidenceScore,
		nullString(m.Metadata), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read message id: %w", err)
	}
	return id, nil
}

// MarkMessageProcessing transitions a message into the processing state.
func (s *Store) MarkMessageProcessing(ctx context.Context, id int64) error {
	return s.setMessageStatus(ctx, id, StatusProcessing)
}

// MarkMessageResponded records the pipeline outcome on the inbound message.
func (s *Store) MarkMessageResponded(ctx context.Context, id int64, aiResponse, language string, confidence int, processingTimeMs int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?, ai_response = ?, language_detected = ?,
		    confidence_score = ?, processing_time_ms = ?
		WHERE id = ?`,
		StatusResponded, aiResponse, language, confidence, processingTimeMs, id)
	if err != nil {
		return fmt.Errorf("mark message responded: %w", err)
	}
	return requireRow(result, id)
}

// MarkMessageFailed records a terminal failure with its reason.
func (s *Store) MarkMessageFailed(ctx context.Context, id int64, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, metadata = ? WHERE id = ?`,
		StatusFailed, marshalFailure(reason), id)
	if err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	return requireRow(result, id)
}

func (s *Store) setMessageStatus(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return nil
}

func marshalFailure(reason string) string {
	data, _ := json.Marshal(map[string]string{"failure": reason})
	return string(data)
}

// GetMessage fetches a single message by ID.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id)
	return scanMessage(row)
}

// RecentMessages returns a tenant's latest messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, businessID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE business_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// PendingMessages returns inbound messages across all tenants still awaiting
// a reply, oldest first. Rows in processing count as pending because a
// shutdown mid-turn leaves them there.
func (s *Store) PendingMessages(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE direction = ? AND status IN (?, ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		DirectionInbound, StatusReceived, StatusProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

const messageSelect = `
	SELECT id, business_id, whatsapp_message_id, direction, content, content_type,
	       language_detected, sender_phone, recipient_phone, sender_name,
	       status, ai_response, processing_time_ms, confidence_score, metadata,
	       created_at
	FROM messages`

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var waID, language, sender, recipient, senderName, aiResponse, metadata sql.NullString
	var processingTime sql.NullInt64
	var confidence sql.NullInt64

	err := row.Scan(&m.ID, &m.BusinessID, &waID, &m.Direction, &m.Content, &m.ContentType,
		&language, &sender, &recipient, &senderName,
		&m.Status, &aiResponse, &processingTime, &confidence, &metadata,
		&m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	m.WhatsAppMessageID = waID.String
	m.LanguageDetected = language.String
	m.SenderPhone = sender.String
	m.RecipientPhone = recipient.String
	m.SenderName = senderName.String
	m.AIResponse = aiResponse.String
	m.ProcessingTimeMs = processingTime.Int64
	m.ConfidenceScore = int(confidence.Int64)
	m.Metadata = metadata.String

	return &m, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// DOCUMENT OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// CreateDocument stores a knowledge document in pending state.
func (s *Store) CreateDocument(ctx context.Context, d *Document) (int64, error) {
	if d.Name == "" {
		return 0, fmt.Errorf("document name cannot be empty")
	}

	status := d.Status
	if status == "" {
		status = DocumentPending
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (business_id, name, content, status, processing_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.BusinessID, d.Name, nullString(d.Content), status,
		nullString(d.ProcessingError), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read document id: %w", err)
	}
	return id, nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, content, status, processing_error, created_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns all documents of a tenant.
func (s *Store) ListDocuments(ctx context.Context, businessID int64) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, name, content, status, processing_error, created_at
		FROM documents WHERE business_id = ? ORDER BY id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var documents []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, d)
	}
	return documents, rows.Err()
}

// UpdateDocumentStatus records the outcome of document processing.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status, processingError string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, processing_error = ? WHERE id = ?`,
		status, nullString(processingError), id)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document record.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var content, processingError sql.NullString

	err := row.Scan(&d.ID, &d.BusinessID, &d.Name, &content, &d.Status, &processingError, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}

	d.Content = content.String
	d.ProcessingError = processingError.String
	return &d, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SHEET CONNECTION OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// CreateSheetConnection links a sheet to a tenant.
func (s *Store) CreateSheetConnection(ctx context.Context, c *SheetConnection) (int64, error) {
	if c.Name == "" || c.SheetID == "" {
		return 0, fmt.Errorf("sheet connection requires a name and sheet ID")
	}

	ttl := c.CacheTTLMinutes
	if ttl <= 0 {
		ttl = 10
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sheet_connections (
			business_id, name, sheet_url, sheet_id, cache_ttl_minutes,
			row_count, column_count, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.BusinessID, c.Name, c.SheetURL, c.SheetID, ttl,
		c.RowCount, c.ColumnCount, c.IsActive, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert sheet connection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read sheet connection id: %w", err)
	}
	return id, nil
}

// ListSheetConnections returns a tenant's connections, optionally active only.
func (s *Store) ListSheetConnections(ctx context.Context, businessID int64, activeOnly bool) ([]*SheetConnection, error) {
	query := `
		SELECT id, business_id, name, sheet_url, sheet_id, cache_ttl_minutes,
		       last_synced_at, last_sync_error, row_count, column_count,
		       is_active, created_at, updated_at
		FROM sheet_connections WHERE business_id = ?`
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("list sheet connections: %w", err)
	}
	defer rows.Close()

	var connections []*SheetConnection
	for rows.Next() {
		c, err := scanSheetConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// UpdateSheetSyncStatus records the outcome of a sheet refresh.
func (s *Store) UpdateSheetSyncStatus(ctx context.Context, id int64, rowCount, columnCount int, syncErr string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sheet_connections
		SET last_synced_at = ?, last_sync_error = ?, row_count = ?, column_count = ?, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), nullString(syncErr), rowCount, columnCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update sheet sync status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sheet connection %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSheetConnection removes a connection.
func (s *Store) DeleteSheetConnection(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sheet_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sheet connection: %w", err)
	}
	return nil
}

func scanSheetConnection(row scanner) (*SheetConnection, error) {
	var c SheetConnection
	var lastSynced sql.NullTime
	var syncError sql.NullString

	err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &c.SheetURL, &c.SheetID, &c.CacheTTLMinutes,
		&lastSynced, &syncError, &c.RowCount, &c.ColumnCount,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sheet connection: %w", err)
	}

	if lastSynced.Valid {
		t := lastSynced.Time
		c.LastSyncedAt = &t
	}
	c.LastSyncError = syncError.String
	return &c, nil
}
