package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"termbridge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict means an update's expected version did not match the
	// stored version; the caller must reload and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAmbiguousUUID means more than one response row carries the same
	// proposal uuid. This is a data-integrity fault and is never resolved by
	// picking one.
	ErrAmbiguousUUID = errors.New("multiple responses share one proposal uuid")
)

// --- packages ---

func (r Repo) InsertPackage(ctx context.Context, tx *sql.Tx, p domain.Package) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO packages(id,name,email,description,status,created_by,created_at,changed_by,changed_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Email, nullable(p.Description), string(p.Status),
		p.CreatedBy, p.CreatedAt, nullable(p.ChangedBy), nullable(p.ChangedAt), p.Version)
	return err
}

// UpdatePackage writes package fields with a compare-and-swap on version:
// the row is only written when its stored version equals expectedVersion,
// and the stored version becomes expectedVersion+1.
func (r Repo) UpdatePackage(ctx context.Context, tx *sql.Tx, p domain.Package, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `UPDATE packages SET name=?, email=?, description=?, status=?, changed_by=?, changed_at=?, version=version+1
WHERE id=? AND version=?`,
		p.Name, p.Email, nullable(p.Description), string(p.Status),
		nullable(p.ChangedBy), nullable(p.ChangedAt), p.ID, expectedVersion)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM packages WHERE id=?`, p.ID).Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func scanPackage(scan func(dest ...any) error) (domain.Package, error) {
	var p domain.Package
	var description, changedBy, changedAt sql.NullString
	var status string
	err := scan(&p.ID, &p.Name, &p.Email, &description, &status,
		&p.CreatedBy, &p.CreatedAt, &changedBy, &changedAt, &p.Version)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.PackageStatus(status)
	if description.Valid {
		p.Description = description.String
	}
	if changedBy.Valid {
		p.ChangedBy = changedBy.String
	}
	if changedAt.Valid {
		p.ChangedAt = changedAt.String
	}
	return p, nil
}

const packageColumns = `id,name,email,description,status,created_by,created_at,changed_by,changed_at,version`

func (r Repo) GetPackage(ctx context.Context, id string) (domain.Package, error) {
	p, err := scanPackage(r.DB.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id=?`, id).Scan)
	if err != nil {
		return p, err
	}
	p.Concepts, err = r.ListPackageConcepts(ctx, p.ID)
	return p, err
}

func (r Repo) GetPackageTx(ctx context.Context, tx *sql.Tx, id string) (domain.Package, error) {
	p, err := scanPackage(tx.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id=?`, id).Scan)
	if err != nil {
		return p, err
	}
	p.Concepts, err = r.listPackageConcepts(ctx, tx, p.ID)
	return p, err
}

type PackageFilters struct {
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPackages(ctx context.Context, f PackageFilters) ([]domain.Package, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + packageColumns + ` FROM packages ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Package
	for rows.Next() {
		p, err := scanPackage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Concepts, err = r.ListPackageConcepts(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// --- proposed concepts ---

// ReplacePackageConcepts synchronizes a package's concept list: rows are
// rewritten in the given order, preserving insertion order for display.
func (r Repo) ReplacePackageConcepts(ctx context.Context, tx *sql.Tx, packageID string, concepts []domain.ProposedConcept) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM proposed_concepts WHERE package_id=?`, packageID); err != nil {
		return err
	}
	for i, c := range concepts {
		_, err := tx.ExecContext(ctx, `INSERT INTO proposed_concepts(id,package_id,uuid,concept_uuid,name,comments,position) VALUES (?,?,?,?,?,?,?)`,
			c.ID, packageID, c.UUID, nullable(c.ConceptUUID), c.Name, nullable(c.Comments), i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListPackageConcepts(ctx context.Context, packageID string) ([]domain.ProposedConcept, error) {
	return r.listPackageConcepts(ctx, nil, packageID)
}

func (r Repo) listPackageConcepts(ctx context.Context, tx *sql.Tx, packageID string) ([]domain.ProposedConcept, error) {
	query := `SELECT id,package_id,uuid,concept_uuid,name,comments,position FROM proposed_concepts WHERE package_id=? ORDER BY position ASC`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, packageID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, packageID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProposedConcept
	for rows.Next() {
		var c domain.ProposedConcept
		var conceptUUID, comments sql.NullString
		if err := rows.Scan(&c.ID, &c.PackageID, &c.UUID, &conceptUUID, &c.Name, &comments, &c.Position); err != nil {
			return nil, err
		}
		if conceptUUID.Valid {
			c.ConceptUUID = conceptUUID.String
		}
		if comments.Valid {
			c.Comments = comments.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- responses ---

const responseColumns = `id,proposal_uuid,name,comments,status,source_name,source_email,created_by,created_at,changed_by,changed_at,version`

func scanResponse(scan func(dest ...any) error) (domain.Response, error) {
	var resp domain.Response
	var comments, sourceName, sourceEmail, changedBy, changedAt sql.NullString
	var status string
	err := scan(&resp.ID, &resp.ProposalUUID, &resp.Name, &comments, &status,
		&sourceName, &sourceEmail, &resp.CreatedBy, &resp.CreatedAt, &changedBy, &changedAt, &resp.Version)
	if err == sql.ErrNoRows {
		return resp, ErrNotFound
	}
	if err != nil {
		return resp, err
	}
	resp.Status = domain.ProposalStatus(status)
	if comments.Valid {
		resp.Comments = comments.String
	}
	if sourceName.Valid {
		resp.SourceName = sourceName.String
	}
	if sourceEmail.Valid {
		resp.SourceEmail = sourceEmail.String
	}
	if changedBy.Valid {
		resp.ChangedBy = changedBy.String
	}
	if changedAt.Valid {
		resp.ChangedAt = changedAt.String
	}
	return resp, nil
}

func (r Repo) InsertResponse(ctx context.Context, tx *sql.Tx, resp domain.Response) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO responses(id,proposal_uuid,name,comments,status,source_name,source_email,created_by,created_at,changed_by,changed_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		resp.ID, resp.ProposalUUID, resp.Name, nullable(resp.Comments), string(resp.Status),
		nullable(resp.SourceName), nullable(resp.SourceEmail),
		resp.CreatedBy, resp.CreatedAt, nullable(resp.ChangedBy), nullable(resp.ChangedAt), resp.Version)
	return err
}

// UpdateResponse writes response fields with a compare-and-swap on version,
// like UpdatePackage.
func (r Repo) UpdateResponse(ctx context.Context, tx *sql.Tx, resp domain.Response, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `UPDATE responses SET name=?, comments=?, status=?, source_name=?, source_email=?, changed_by=?, changed_at=?, version=version+1
WHERE id=? AND version=?`,
		resp.Name, nullable(resp.Comments), string(resp.Status),
		nullable(resp.SourceName), nullable(resp.SourceEmail),
		nullable(resp.ChangedBy), nullable(resp.ChangedAt), resp.ID, expectedVersion)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM responses WHERE id=?`, resp.ID).Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func (r Repo) GetResponse(ctx context.Context, id string) (domain.Response, error) {
	return scanResponse(r.DB.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id=?`, id).Scan)
}

func (r Repo) GetResponseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Response, error) {
	return scanResponse(tx.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id=?`, id).Scan)
}

// FindResponseByUUID returns the single response matching a proposal uuid.
// Zero rows yields ErrNotFound; more than one yields ErrAmbiguousUUID.
func (r Repo) FindResponseByUUID(ctx context.Context, tx *sql.Tx, uuid string) (domain.Response, error) {
	query := `SELECT ` + responseColumns + ` FROM responses WHERE proposal_uuid=?`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, uuid)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, uuid)
	}
	if err != nil {
		return domain.Response{}, err
	}
	defer rows.Close()
	var matches []domain.Response
	for rows.Next() {
		resp, err := scanResponse(rows.Scan)
		if err != nil {
			return domain.Response{}, err
		}
		matches = append(matches, resp)
	}
	if err := rows.Err(); err != nil {
		return domain.Response{}, err
	}
	switch len(matches) {
	case 0:
		return domain.Response{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return domain.Response{}, fmt.Errorf("%w: uuid=%s count=%d", ErrAmbiguousUUID, uuid, len(matches))
	}
}

type ResponseFilters struct {
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListResponses(ctx context.Context, f ResponseFilters) ([]domain.Response, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + responseColumns + ` FROM responses ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Response
	for rows.Next() {
		resp, err := scanResponse(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, resp)
	}
	return res, rows.Err()
}

func (r Repo) CountPackagesByStatus(ctx context.Context) (map[string]int, error) {
	return r.countByStatus(ctx, "packages")
}

func (r Repo) CountResponsesByStatus(ctx context.Context) (map[string]int, error) {
	return r.countByStatus(ctx, "responses")
}

func (r Repo) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// --- concepts (dictionary cache) ---

func (r Repo) UpsertConcept(ctx context.Context, c domain.Concept) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO concepts(uuid,name,datatype,description) VALUES (?,?,?,?)
ON CONFLICT(uuid) DO UPDATE SET name=excluded.name, datatype=excluded.datatype, description=excluded.description`,
		c.UUID, c.Name, nullable(c.Datatype), nullable(c.Description))
	return err
}

func (r Repo) GetConcept(ctx context.Context, uuid string) (domain.Concept, error) {
	var c domain.Concept
	var datatype, description sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT uuid,name,datatype,description FROM concepts WHERE uuid=?`, uuid).
		Scan(&c.UUID, &c.Name, &datatype, &description)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if datatype.Valid {
		c.Datatype = datatype.String
	}
	if description.Valid {
		c.Description = description.String
	}
	return c, nil
}

func (r Repo) SearchConcepts(ctx context.Context, query string, limit int) ([]domain.Concept, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT uuid,name,datatype,description FROM concepts WHERE name LIKE ? ORDER BY name ASC LIMIT ?`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Concept
	for rows.Next() {
		var c domain.Concept
		var datatype, description sql.NullString
		if err := rows.Scan(&c.UUID, &c.Name, &datatype, &description); err != nil {
			return nil, err
		}
		if datatype.Valid {
			c.Datatype = datatype.String
		}
		if description.Valid {
			c.Description = description.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
