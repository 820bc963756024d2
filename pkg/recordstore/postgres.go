package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/docmodel"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store over a Postgres database via sqlx/pgx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a connection pool against dsn (a standard
// Postgres connection string) using the pgx stdlib driver.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to record store: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies the connection pool can reach Postgres, for the /healthz
// readiness route.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type recordRow struct {
	ContentHash       string         `db:"content_hash"`
	ProcessingID      string         `db:"processing_id"`
	TenantID          string         `db:"tenant_id"`
	Filename          string         `db:"filename"`
	SourcePath        string         `db:"source_path"`
	ProcessedPath     string         `db:"processed_path"`
	KVPairs           []byte         `db:"kv_pairs"`
	KVConfidences     []byte         `db:"kv_confidences"`
	OCRConfidence     float64        `db:"ocr_confidence"`
	OverallConfidence float64        `db:"overall_confidence"`
	Classification    string         `db:"classification"`
	RawText           sql.NullString `db:"raw_text"`
	PositioningData   []byte         `db:"positioning_data"`
	TemplateID        sql.NullString `db:"template_id"`
	TemplateMapping   []byte         `db:"template_mapping"`
	HasCorrections    bool           `db:"has_corrections"`
	LastCorrectedBy   sql.NullString `db:"last_corrected_by"`
	LastCorrectedAt   sql.NullTime   `db:"last_corrected_at"`
	ExtractFallback   bool           `db:"extract_fallback"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r *recordRow) toRecord() (*docmodel.ProcessedRecord, error) {
	record := &docmodel.ProcessedRecord{
		ContentHash:       r.ContentHash,
		ProcessingID:      r.ProcessingID,
		TenantID:          r.TenantID,
		Filename:          r.Filename,
		SourcePath:        r.SourcePath,
		ProcessedPath:     r.ProcessedPath,
		OCRConfidence:     r.OCRConfidence,
		OverallConfidence: r.OverallConfidence,
		Classification:    docmodel.Classification(r.Classification),
		RawText:           r.RawText.String,
		PositioningData:   r.PositioningData,
		TemplateID:        r.TemplateID.String,
		HasCorrections:    r.HasCorrections,
		LastCorrectedBy:   r.LastCorrectedBy.String,
		ExtractFallback:   r.ExtractFallback,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.LastCorrectedAt.Valid {
		record.LastCorrectedAt = r.LastCorrectedAt.Time
	}
	if len(r.KVPairs) > 0 {
		if err := json.Unmarshal(r.KVPairs, &record.KVPairs); err != nil {
			return nil, fmt.Errorf("failed to decode kv_pairs: %w", err)
		}
	}
	if len(r.KVConfidences) > 0 {
		if err := json.Unmarshal(r.KVConfidences, &record.KVConfidences); err != nil {
			return nil, fmt.Errorf("failed to decode kv_confidences: %w", err)
		}
	}
	if len(r.TemplateMapping) > 0 {
		var mapping docmodel.TemplateMapping
		if err := json.Unmarshal(r.TemplateMapping, &mapping); err != nil {
			return nil, fmt.Errorf("failed to decode template_mapping: %w", err)
		}
		record.TemplateMapping = &mapping
	}
	return record, nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, contentHash string) (*docmodel.ProcessedRecord, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM processed_records WHERE content_hash = $1`, contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record by hash: %w", err)
	}
	return row.toRecord()
}

func (s *PostgresStore) Get(ctx context.Context, processingID string) (*docmodel.ProcessedRecord, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM processed_records WHERE processing_id = $1`, processingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toRecord()
}

func (s *PostgresStore) Insert(ctx context.Context, record *docmodel.ProcessedRecord) error {
	kvPairs, err := json.Marshal(record.KVPairs)
	if err != nil {
		return fmt.Errorf("failed to encode kv_pairs: %w", err)
	}
	kvConfidences, err := json.Marshal(record.KVConfidences)
	if err != nil {
		return fmt.Errorf("failed to encode kv_confidences: %w", err)
	}
	var templateMapping []byte
	if record.TemplateMapping != nil {
		templateMapping, err = json.Marshal(record.TemplateMapping)
		if err != nil {
			return fmt.Errorf("failed to encode template_mapping: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processed_records (
			content_hash, processing_id, tenant_id, filename, source_path, processed_path,
			kv_pairs, kv_confidences, ocr_confidence, overall_confidence, classification,
			raw_text, positioning_data, template_id, template_mapping,
			has_corrections, extract_fallback, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)`,
		record.ContentHash, record.ProcessingID, record.TenantID, record.Filename,
		record.SourcePath, record.ProcessedPath, kvPairs, kvConfidences,
		record.OCRConfidence, record.OverallConfidence, string(record.Classification),
		nullString(record.RawText), record.PositioningData, nullString(record.TemplateID), templateMapping,
		record.HasCorrections, record.ExtractFallback, record.CreatedAt, record.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apierrors.New(apierrors.Duplicate, fmt.Sprintf("content_hash %s already recorded", record.ContentHash), err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateKV(ctx context.Context, processingID string, newKV map[string]string, newConfs map[string]float64, actor string) (*docmodel.ProcessedRecord, error) {
	record, err := s.Get(ctx, processingID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("processing_id %s not found", processingID), nil)
	}

	if record.KVPairs == nil {
		record.KVPairs = map[string]string{}
	}
	if record.KVConfidences == nil {
		record.KVConfidences = map[string]float64{}
	}
	for k, v := range newKV {
		record.KVPairs[k] = v
	}
	for k, c := range newConfs {
		record.KVConfidences[k] = c
	}
	record.OverallConfidence = docmodel.OverallConfidence(record.OCRConfidence, record.KVConfidences)
	record.HasCorrections = true
	record.LastCorrectedBy = actor
	record.LastCorrectedAt = nowFunc()
	record.UpdatedAt = record.LastCorrectedAt

	kvPairs, err := json.Marshal(record.KVPairs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode kv_pairs: %w", err)
	}
	kvConfidences, err := json.Marshal(record.KVConfidences)
	if err != nil {
		return nil, fmt.Errorf("failed to encode kv_confidences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE processed_records SET
			kv_pairs = $1, kv_confidences = $2, overall_confidence = $3,
			has_corrections = $4, last_corrected_by = $5, last_corrected_at = $6, updated_at = $7
		WHERE processing_id = $8`,
		kvPairs, kvConfidences, record.OverallConfidence,
		record.HasCorrections, record.LastCorrectedBy, record.LastCorrectedAt, record.UpdatedAt,
		processingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update record kv: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) UpdatePaths(ctx context.Context, processingID, sourcePath, processedPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processed_records SET source_path = $1, processed_path = $2, updated_at = $3
		WHERE processing_id = $4`,
		sourcePath, processedPath, nowFunc(), processingID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record paths: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string, filters ListFilters) ([]*docmodel.ProcessedRecord, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT * FROM processed_records WHERE tenant_id = $1`)
	args := []any{tenantID}

	if filters.Classification != "" {
		args = append(args, string(filters.Classification))
		query.WriteString(fmt.Sprintf(" AND classification = $%d", len(args)))
	}
	if filters.HasCorrections != nil {
		args = append(args, *filters.HasCorrections)
		query.WriteString(fmt.Sprintf(" AND has_corrections = $%d", len(args)))
	}
	query.WriteString(" ORDER BY created_at DESC")
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to list records for tenant %s: %w", tenantID, err)
	}

	records := make([]*docmodel.ProcessedRecord, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		if filters.Tier != "" && docmodel.Tier(tierOf(record.SourcePath)) != filters.Tier {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func tierOf(path string) string {
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return path
}

func (s *PostgresStore) InsertNullFieldRecord(ctx context.Context, record *docmodel.NullFieldRecord) error {
	fields, err := json.Marshal(record.AllExtractedFields)
	if err != nil {
		return fmt.Errorf("failed to encode all_extracted_fields: %w", err)
	}
	names, err := json.Marshal(record.NullFieldNames)
	if err != nil {
		return fmt.Errorf("failed to encode null_field_names: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO null_field_records (processing_id, tenant_id, filename, null_field_names, all_extracted_fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ProcessingID, record.TenantID, record.Filename, names, fields, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert null field record: %w", err)
	}
	return nil
}

type templateRow struct {
	TemplateID string    `db:"template_id"`
	TenantID   string    `db:"tenant_id"`
	Name       string    `db:"name"`
	Fields     []byte    `db:"fields"`
	Deleted    bool      `db:"deleted"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *templateRow) toTemplate() (*docmodel.Template, error) {
	tmpl := &docmodel.Template{
		TemplateID: r.TemplateID,
		TenantID:   r.TenantID,
		Name:       r.Name,
		Deleted:    r.Deleted,
		CreatedAt:  r.CreatedAt,
	}
	if err := json.Unmarshal(r.Fields, &tmpl.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode template fields: %w", err)
	}
	return tmpl, nil
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, tmpl *docmodel.Template) error {
	fields, err := json.Marshal(tmpl.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode template fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (template_id, tenant_id, name, fields, deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tmpl.TemplateID, tmpl.TenantID, tmpl.Name, fields, tmpl.Deleted, tmpl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (*docmodel.Template, error) {
	var row templateRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM templates WHERE template_id = $1`, templateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return row.toTemplate()
}

func (s *PostgresStore) ListTemplates(ctx context.Context, tenantID string) ([]*docmodel.Template, error) {
	var rows []templateRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM templates WHERE tenant_id = $1 AND deleted = false ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates for tenant %s: %w", tenantID, err)
	}
	templates := make([]*docmodel.Template, 0, len(rows))
	for i := range rows {
		tmpl, err := rows[i].toTemplate()
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE templates SET deleted = true WHERE template_id = $1`, templateID)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
