package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/rentwatch/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反コード。
const pgUniqueViolation = "23505"

// PostgresPropertyRepo はPostgreSQLを使用した物件リポジトリ。
type PostgresPropertyRepo struct {
	db *sql.DB
}

// NewPostgresPropertyRepo はPostgresPropertyRepoを生成する。
func NewPostgresPropertyRepo(db *sql.DB) *PostgresPropertyRepo {
	return &PostgresPropertyRepo{db: db}
}

// FindByKey は(source, external_id)で物件を検索する。見つからない場合はnilを返す。
func (r *PostgresPropertyRepo) FindByKey(ctx context.Context, source, externalID string) (*model.Property, error) {
	p := &model.Property{}
	var landlordType, propertyType string
	var furnished, petsAllowed sql.NullBool

	err := r.db.QueryRowContext(ctx,
		`SELECT id, source, external_id, source_url, title, description, city, neighborhood,
		        price, bedrooms, square_meters, photos, landlord_type, property_type,
		        furnished, pets_allowed, is_active, scraped_at, last_checked_at, created_at, updated_at
		 FROM properties WHERE source = $1 AND external_id = $2`,
		source, externalID,
	).Scan(
		&p.ID, &p.Source, &p.ExternalID, &p.SourceURL, &p.Title, &p.Description, &p.City, &p.Neighborhood,
		&p.Price, &p.Bedrooms, &p.SquareMeters, pq.Array(&p.Photos), &landlordType, &propertyType,
		&furnished, &petsAllowed, &p.IsActive, &p.ScrapedAt, &p.LastCheckedAt, &p.CreatedAt, &p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("物件の検索に失敗しました: %w", err)
	}

	p.LandlordType = model.LandlordType(landlordType)
	p.PropertyType = model.PropertyType(propertyType)
	p.Furnished = nullBoolPtr(furnished)
	p.PetsAllowed = nullBoolPtr(petsAllowed)

	return p, nil
}

// Insert は物件を作成する。
// 同時挿入で一意制約に負けた場合はErrDuplicateKeyを返す。
func (r *PostgresPropertyRepo) Insert(ctx context.Context, p *model.Property) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO properties (id, source, external_id, source_url, title, description, city, neighborhood,
		        price, bedrooms, square_meters, photos, landlord_type, property_type,
		        furnished, pets_allowed, is_active, scraped_at, last_checked_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (source, external_id) DO NOTHING`,
		p.ID, p.Source, p.ExternalID, p.SourceURL, p.Title, p.Description, p.City, p.Neighborhood,
		p.Price, p.Bedrooms, p.SquareMeters, pq.Array(nonNil(p.Photos)), string(p.LandlordType), string(p.PropertyType),
		boolPtrValue(p.Furnished), boolPtrValue(p.PetsAllowed), p.IsActive, p.ScrapedAt, p.LastCheckedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("物件の作成に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("作成件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}

	return nil
}

// Update は物件を更新する。source, external_id, created_atは変更しない。
func (r *PostgresPropertyRepo) Update(ctx context.Context, p *model.Property) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE properties SET
		        source_url = $2, title = $3, description = $4, neighborhood = $5,
		        price = $6, bedrooms = $7, square_meters = $8, photos = $9,
		        landlord_type = $10, property_type = $11, furnished = $12, pets_allowed = $13,
		        is_active = $14, last_checked_at = $15, updated_at = $16
		 WHERE id = $1`,
		p.ID, p.SourceURL, p.Title, p.Description, p.Neighborhood,
		p.Price, p.Bedrooms, p.SquareMeters, pq.Array(nonNil(p.Photos)),
		string(p.LandlordType), string(p.PropertyType), boolPtrValue(p.Furnished), boolPtrValue(p.PetsAllowed),
		p.IsActive, p.LastCheckedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("物件の更新に失敗しました: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

func nullBoolPtr(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	v := nb.Bool
	return &v
}

func boolPtrValue(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// nonNil はNOT NULLの配列カラム向けにnilスライスを空スライスへ置き換える。
func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
