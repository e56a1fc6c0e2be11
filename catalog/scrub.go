package catalog

import (
	"context"
	"time"
)

// ImagesPendingScrub lists images queued for delayed deletion whose
// deletion happened at or before cutoff. The scrubber calls this with
// administrative authority; there is no request context to filter by.
func (c *Catalog) ImagesPendingScrub(ctx context.Context, cutoff time.Time) ([]*ScrubTask, error) {
	var tasks []*ScrubTask
	err := c.withRetry(ctx, "images_pending_scrub", func() error {
		rows, err := c.db.QueryContext(ctx, `
			SELECT `+imageColumns+` FROM images
			WHERE status = 'pending_delete' AND deleted_at <= ?
			ORDER BY deleted_at`, cutoff.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()
		tasks = tasks[:0]
		for rows.Next() {
			img, err := scanImage(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, &ScrubTask{ImageID: img.ID, DeletedAt: *img.DeletedAt})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		err := c.withRetry(ctx, "images_pending_scrub_locations", func() error {
			locs, err := loadScrubLocations(ctx, c.db, task.ImageID)
			if err != nil {
				return err
			}
			task.LocationURLs = locs
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// ScrubTask is one delayed delete awaiting body reclamation. Location
// rows of a destroyed image are themselves soft-deleted, so the scrubber
// reads them through this dedicated query instead of ImageGet.
type ScrubTask struct {
	ImageID      string
	DeletedAt    time.Time
	LocationURLs []string
}

func loadScrubLocations(ctx context.Context, q querier, imageID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT url FROM image_locations
		WHERE image_id = ? ORDER BY position, id`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
