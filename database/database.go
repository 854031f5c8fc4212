package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/facette/natsort"

	"github.com/camden-git/facetagger/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// faceImagesQuery joins every image with at least one face to its regions.
// Images come out grouped so rows can be folded in a single pass.
func faceImagesQuery() sq.SelectBuilder {
	return psql.Select(
		"a.image_id", "a.detection_width", "a.detection_height", "a.taken_at",
		"r.box_left", "r.box_top", "r.box_right", "r.box_bottom", "r.tag",
	).
		From("image_analyses a").
		LeftJoin("face_regions r ON r.image_id = a.image_id").
		Where(sq.Eq{"a.has_face": true}).
		OrderBy("a.image_id ASC", "r.id ASC")
}

// ListFaceImages returns the display snapshot: images with faces and their
// tagged regions, ordered by sortOrder.
func ListFaceImages(ctx context.Context, db Querier, sortOrder string) ([]models.DisplayImage, error) {
	sqlStr, args, err := faceImagesQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for ListFaceImages: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query face images: %w", err)
	}
	defer rows.Close()

	images := []models.DisplayImage{}
	for rows.Next() {
		var (
			imageID       string
			width, height int
			takenAt       sql.NullInt64
			left, top     sql.NullFloat64
			right, bottom sql.NullFloat64
			tag           sql.NullString
		)
		if err := rows.Scan(&imageID, &width, &height, &takenAt, &left, &top, &right, &bottom, &tag); err != nil {
			return nil, fmt.Errorf("failed to scan face image row: %w", err)
		}

		if len(images) == 0 || images[len(images)-1].ImageID != imageID {
			img := models.DisplayImage{
				ImageID:         imageID,
				DetectionWidth:  width,
				DetectionHeight: height,
				Regions:         []models.RegionView{},
			}
			if takenAt.Valid {
				ts := takenAt.Int64
				img.TakenAt = &ts
			}
			images = append(images, img)
		}

		// left join yields a null region for an image without region rows
		if !left.Valid {
			continue
		}
		current := &images[len(images)-1]
		current.Regions = append(current.Regions, models.RegionView{
			Box: models.Box{Left: left.Float64, Top: top.Float64, Right: right.Float64, Bottom: bottom.Float64},
			Tag: tag.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating face image rows: %w", err)
	}

	SortDisplayImages(images, sortOrder)
	return images, nil
}

// SortDisplayImages orders images in place. Images without a capture time sort
// after dated ones for the date orders.
func SortDisplayImages(images []models.DisplayImage, sortOrder string) {
	switch sortOrder {
	case SortImageNat:
		sort.SliceStable(images, func(i, j int) bool {
			return natsort.Compare(images[i].ImageID, images[j].ImageID)
		})
	case SortDateAsc, SortDateDesc:
		desc := sortOrder == SortDateDesc
		sort.SliceStable(images, func(i, j int) bool {
			a, b := images[i].TakenAt, images[j].TakenAt
			switch {
			case a == nil && b == nil:
				return images[i].ImageID < images[j].ImageID
			case a == nil:
				return false
			case b == nil:
				return true
			case *a == *b:
				return images[i].ImageID < images[j].ImageID
			case desc:
				return *a > *b
			default:
				return *a < *b
			}
		})
	default:
		// query order is already image id ascending
	}
}
