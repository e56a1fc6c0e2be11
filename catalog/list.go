package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// sortColumns maps user-facing sort keys to image columns. Requests
// naming anything else are rejected rather than silently reordered.
var sortColumns = map[string]struct{}{
	"id":               {},
	"name":             {},
	"status":           {},
	"size":             {},
	"checksum":         {},
	"disk_format":      {},
	"container_format": {},
	"min_disk":         {},
	"min_ram":          {},
	"owner":            {},
	"is_public":        {},
	"protected":        {},
	"created_at":       {},
	"updated_at":       {},
}

// equalityFilters are the base attributes that accept a plain equality
// filter value.
var equalityFilters = map[string]struct{}{
	"id":               {},
	"name":             {},
	"status":           {},
	"disk_format":      {},
	"container_format": {},
	"checksum":         {},
	"owner":            {},
}

// rangeFilters maps <attr>_min / <attr>_max filter keys to their column.
var rangeFilters = map[string]struct {
	column string
	op     string
}{
	"size_min":     {"size", ">="},
	"size_max":     {"size", "<="},
	"min_disk_min": {"min_disk", ">="},
	"min_disk_max": {"min_disk", "<="},
	"min_ram_min":  {"min_ram", ">="},
	"min_ram_max":  {"min_ram", "<="},
}

const propertyFilterPrefix = "property-"

// memberOfClause matches images shared with the tenant through a live
// membership row.
const memberOfClause = `id IN (SELECT image_id FROM image_members WHERE member = ? AND deleted = 0)`

// ImageGetAll returns a filtered, ordered, keyset-paginated page of
// images. See types.ListOptions for the request shape; the ordering
// contract is the lexicographic strict-follow predicate over the sort
// tuple, so chaining markers enumerates every matching row exactly once.
func (c *Catalog) ImageGetAll(ctx context.Context, rc *auth.Context, opts types.ListOptions) ([]*types.Image, error) {
	limit := opts.Limit
	switch {
	case limit < 0:
		return nil, errdefs.InvalidParameter(errors.New("limit must be a positive integer"))
	case limit == 0:
		limit = c.cfg.DefaultListLimit
	case limit > c.cfg.MaxListLimit:
		limit = c.cfg.MaxListLimit
	}

	sortKeys, sortDirs, err := normalizeSort(opts.SortKeys, opts.SortDirs)
	if err != nil {
		return nil, err
	}

	where, args, showDeleted, err := c.buildFilters(rc, opts.Filters)
	if err != nil {
		return nil, err
	}

	if opts.Marker != "" {
		marker, err := c.ImageGet(ctx, rc, opts.Marker, showDeleted)
		if err != nil {
			// Unknown and invisible markers are indistinguishable.
			return nil, errdefs.NotFound(errors.Errorf("no image found with ID %s as marker", opts.Marker))
		}
		clause, clauseArgs, err := keysetClause(marker, sortKeys, sortDirs)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}

	query := `SELECT ` + imageColumns + ` FROM images`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	orderBy := make([]string, len(sortKeys))
	for i, k := range sortKeys {
		orderBy[i] = k + " " + strings.ToUpper(sortDirs[i])
	}
	query += ` ORDER BY ` + strings.Join(orderBy, ", ")
	query += ` LIMIT ?`
	args = append(args, limit)

	var images []*types.Image
	err = c.withRetry(ctx, "image_get_all", func() error {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		images = images[:0]
		for rows.Next() {
			img, err := scanImage(rows)
			if err != nil {
				return err
			}
			images = append(images, img)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, img := range images {
			if err := loadChildren(ctx, c.db, img); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return images, nil
}

// normalizeSort validates the user sort keys, broadcasts a lone direction
// and appends created_at and id so the sort tuple is unique.
func normalizeSort(keys, dirs []string) ([]string, []string, error) {
	if len(keys) == 0 {
		keys = []string{"created_at"}
	}
	for _, k := range keys {
		if _, ok := sortColumns[k]; !ok {
			return nil, nil, errdefs.InvalidParameter(errors.Errorf("invalid sort key %q", k))
		}
	}
	switch len(dirs) {
	case 0:
		dirs = []string{"desc"}
	case 1, len(keys):
	default:
		return nil, nil, errdefs.InvalidParameter(errors.New("sort direction count must be one, or match the sort key count"))
	}
	for _, d := range dirs {
		if d != "asc" && d != "desc" {
			return nil, nil, errdefs.InvalidParameter(errors.Errorf("invalid sort direction %q", d))
		}
	}
	if len(dirs) == 1 && len(keys) > 1 {
		d := dirs[0]
		dirs = make([]string, len(keys))
		for i := range dirs {
			dirs[i] = d
		}
	}

	outKeys := append([]string(nil), keys...)
	outDirs := append([]string(nil), dirs...)
	for _, tiebreak := range []string{"created_at", "id"} {
		if !containsString(outKeys, tiebreak) {
			outKeys = append(outKeys, tiebreak)
			outDirs = append(outDirs, outDirs[len(outDirs)-1])
		}
	}
	return outKeys, outDirs, nil
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// keysetClause builds the strict-follow predicate over the sort tuple:
// a row follows the marker iff for some i every earlier key is equal and
// key i is strictly beyond the marker's value in its direction.
func keysetClause(marker *types.Image, keys, dirs []string) (string, []interface{}, error) {
	var (
		alternatives []string
		args         []interface{}
	)
	for i := range keys {
		var conj []string
		for j := 0; j < i; j++ {
			v, err := imageSortValue(marker, keys[j])
			if err != nil {
				return "", nil, err
			}
			conj = append(conj, keys[j]+" = ?")
			args = append(args, v)
		}
		op := ">"
		if dirs[i] == "desc" {
			op = "<"
		}
		v, err := imageSortValue(marker, keys[i])
		if err != nil {
			return "", nil, err
		}
		conj = append(conj, keys[i]+" "+op+" ?")
		args = append(args, v)
		alternatives = append(alternatives, "("+strings.Join(conj, " AND ")+")")
	}
	return "(" + strings.Join(alternatives, " OR ") + ")", args, nil
}

func imageSortValue(img *types.Image, key string) (interface{}, error) {
	switch key {
	case "id":
		return img.ID, nil
	case "name":
		return img.Name, nil
	case "status":
		return img.Status, nil
	case "size":
		return img.Size, nil
	case "checksum":
		return img.Checksum, nil
	case "disk_format":
		return img.DiskFormat, nil
	case "container_format":
		return img.ContainerFormat, nil
	case "min_disk":
		return img.MinDisk, nil
	case "min_ram":
		return img.MinRAM, nil
	case "owner":
		return img.Owner, nil
	case "is_public":
		return img.IsPublic, nil
	case "protected":
		return img.Protected, nil
	case "created_at":
		return img.CreatedAt, nil
	case "updated_at":
		return img.UpdatedAt, nil
	}
	return nil, errdefs.InvalidParameter(errors.Errorf("invalid sort key %q", key))
}

// buildFilters translates the filter map into WHERE clauses. It returns
// the effective show-deleted flag because a changes-since filter widens
// the query to include deleted rows.
func (c *Catalog) buildFilters(rc *auth.Context, filters map[string]string) (where []string, args []interface{}, showDeleted bool, err error) {
	showDeleted = rc.CanSeeDeleted()
	deletedFiltered := false

	for key, value := range filters {
		switch {
		case key == "is_public":
			switch strings.ToLower(value) {
			case "none", "":
				// any
			case "true", "1":
				if owner := rc.Owner(); owner != "" {
					where = append(where, `(is_public = 1 OR owner = ? OR `+memberOfClause+`)`)
					args = append(args, owner, owner)
				} else {
					where = append(where, `is_public = 1`)
				}
			case "false", "0":
				where = append(where, `is_public = 0`)
			default:
				return nil, nil, false, errdefs.InvalidParameter(errors.Errorf("invalid is_public filter %q", value))
			}

		case key == "changes-since":
			ts, perr := parseFilterTime(value)
			if perr != nil {
				return nil, nil, false, errdefs.InvalidParameter(errors.Errorf("invalid changes-since timestamp %q", value))
			}
			where = append(where, `updated_at > ?`)
			args = append(args, ts)
			showDeleted = true

		case key == "deleted":
			b, perr := strconv.ParseBool(value)
			if perr != nil {
				return nil, nil, false, errdefs.InvalidParameter(errors.Errorf("invalid deleted filter %q", value))
			}
			deletedFiltered = true
			if b {
				where = append(where, `deleted = 1`)
			} else {
				where = append(where, `deleted = 0 AND status != ?`)
				args = append(args, types.StatusKilled)
			}

		case key == "protected":
			b, perr := strconv.ParseBool(value)
			if perr != nil {
				return nil, nil, false, errdefs.InvalidParameter(errors.Errorf("invalid protected filter %q", value))
			}
			where = append(where, `protected = ?`)
			args = append(args, b)

		case key == "size_min" || key == "size_max" || key == "min_disk_min" || key == "min_disk_max" || key == "min_ram_min" || key == "min_ram_max":
			rf := rangeFilters[key]
			n, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return nil, nil, false, errdefs.InvalidParameter(errors.Errorf("invalid filter range value %q for %s", value, key))
			}
			where = append(where, fmt.Sprintf("%s %s ?", rf.column, rf.op))
			args = append(args, n)

		case key == "min_disk" || key == "min_ram" || key == "size":
			n, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return nil, nil, false, errdefs.InvalidParameter(errors.Errorf("invalid %s filter %q", key, value))
			}
			where = append(where, key+" = ?")
			args = append(args, n)

		case strings.HasPrefix(key, propertyFilterPrefix):
			name := strings.TrimPrefix(key, propertyFilterPrefix)
			where = append(where, `id IN (SELECT image_id FROM image_properties WHERE name = ? AND value = ? AND deleted = 0)`)
			args = append(args, name, value)

		default:
			if _, ok := equalityFilters[key]; !ok {
				return nil, nil, false, errdefs.InvalidParameter(errors.Errorf("unrecognized filter %q", key))
			}
			where = append(where, key+" = ?")
			args = append(args, value)
		}
	}

	if !deletedFiltered && !showDeleted {
		where = append(where, `deleted = 0`)
	}

	// Non-admin callers never see private images of other tenants.
	if !rc.IsAdmin {
		if owner := rc.Owner(); owner != "" {
			where = append(where, `(is_public = 1 OR owner = '' OR owner = ? OR `+memberOfClause+`)`)
			args = append(args, owner, owner)
		} else {
			where = append(where, `(is_public = 1 OR owner = '')`)
		}
	}
	return where, args, showDeleted, nil
}

var filterTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC1123,
}

func parseFilterTime(v string) (time.Time, error) {
	for _, layout := range filterTimeFormats {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unparseable timestamp %q", v)
}
