package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestLookupHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT student_key FROM lms_curated\.dim_students WHERE student_id = \$1`).
		WithArgs("STU001").
		WillReturnRows(pgxmock.NewRows([]string{"student_key"}).AddRow(int64(42)))

	r := New(mock, nil)
	key, err := r.Lookup(context.Background(), Students, "STU001")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, int64(42), *key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupMissReturnsNil(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT course_key FROM lms_curated\.dim_courses`).
		WithArgs("CS999").
		WillReturnRows(pgxmock.NewRows([]string{"course_key"}))

	r := New(mock, nil)
	key, err := r.Lookup(context.Background(), Courses, "CS999")
	require.NoError(t, err)
	assert.Nil(t, key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupMemoizesHitsAndMisses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// One query each despite repeated lookups.
	mock.ExpectQuery(`SELECT student_key FROM lms_curated\.dim_students`).
		WithArgs("STU001").
		WillReturnRows(pgxmock.NewRows([]string{"student_key"}).AddRow(int64(7)))
	mock.ExpectQuery(`SELECT student_key FROM lms_curated\.dim_students`).
		WithArgs("GHOST").
		WillReturnRows(pgxmock.NewRows([]string{"student_key"}))

	r := New(mock, nil)
	for i := 0; i < 3; i++ {
		key, err := r.Lookup(context.Background(), Students, "STU001")
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.Equal(t, int64(7), *key)

		miss, err := r.Lookup(context.Background(), Students, "GHOST")
		require.NoError(t, err)
		assert.Nil(t, miss)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupEmptyKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := New(mock, nil)
	key, err := r.Lookup(context.Background(), Assignments, "")
	require.NoError(t, err)
	assert.Nil(t, key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT assignment_key FROM lms_curated\.dim_assignments`).
		WithArgs("A1").
		WillReturnError(fmt.Errorf("connection lost"))

	r := New(mock, nil)
	_, err = r.Lookup(context.Background(), Assignments, "A1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup assignments")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateDropsMemo(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Miss first, invalidate, then the row exists.
	mock.ExpectQuery(`SELECT student_key FROM lms_curated\.dim_students`).
		WithArgs("STU002").
		WillReturnRows(pgxmock.NewRows([]string{"student_key"}))
	mock.ExpectQuery(`SELECT student_key FROM lms_curated\.dim_students`).
		WithArgs("STU002").
		WillReturnRows(pgxmock.NewRows([]string{"student_key"}).AddRow(int64(9)))

	r := New(mock, nil)
	ctx := context.Background()

	miss, err := r.Lookup(ctx, Students, "STU002")
	require.NoError(t, err)
	assert.Nil(t, miss)

	r.Invalidate(ctx, Students)

	key, err := r.Lookup(ctx, Students, "STU002")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, int64(9), *key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateOnlyNamedDimension(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT course_key FROM lms_curated\.dim_courses`).
		WithArgs("CS101").
		WillReturnRows(pgxmock.NewRows([]string{"course_key"}).AddRow(int64(3)))

	r := New(mock, nil)
	ctx := context.Background()

	_, err = r.Lookup(ctx, Courses, "CS101")
	require.NoError(t, err)

	// Invalidating students must not evict the memoized course lookup.
	r.Invalidate(ctx, Students)

	key, err := r.Lookup(ctx, Courses, "CS101")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, int64(3), *key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeCache struct {
	data    map[string]int64
	gets    int
	sets    int
	deletes []string
}

func (f *fakeCache) Get(_ context.Context, key string) (int64, bool, error) {
	f.gets++
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, val int64) error {
	f.sets++
	f.data[key] = val
	return nil
}

func (f *fakeCache) DeletePrefix(_ context.Context, prefix string) error {
	f.deletes = append(f.deletes, prefix)
	for k := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(f.data, k)
		}
	}
	return nil
}

func (f *fakeCache) Close() error { return nil }

func TestLookupReadThroughCache(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cache := &fakeCache{data: map[string]int64{"curate:xref:students:STU005": 55}}

	// No database query expected: the cache answers.
	r := New(mock, cache)
	key, err := r.Lookup(context.Background(), Students, "STU005")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, int64(55), *key)
	assert.Equal(t, 1, cache.gets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupPopulatesCache(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT course_key FROM lms_curated\.dim_courses`).
		WithArgs("CS201").
		WillReturnRows(pgxmock.NewRows([]string{"course_key"}).AddRow(int64(12)))

	cache := &fakeCache{data: map[string]int64{}}
	r := New(mock, cache)

	_, err = r.Lookup(context.Background(), Courses, "CS201")
	require.NoError(t, err)
	assert.Equal(t, int64(12), cache.data["curate:xref:courses:CS201"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateClearsCachePrefix(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cache := &fakeCache{data: map[string]int64{"curate:xref:students:STU001": 1}}
	r := New(mock, cache)

	r.Invalidate(context.Background(), Students)
	assert.Equal(t, []string{"curate:xref:students:"}, cache.deletes)
	assert.Empty(t, cache.data)
}
