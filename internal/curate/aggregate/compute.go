// Package aggregate derives the reporting tables from the curated model.
// Aggregates are non-authoritative: every refresh recomputes them from
// scratch and swaps the tables wholesale inside one transaction.
//
// Each measure family is computed from its own fact set. Joining all
// facts into one wide row set before grouping multiplies submissions by
// activity rows and inflates sums, so the computation deliberately never
// combines fact tables row-wise.
package aggregate

import (
	"sort"
	"time"
)

// Snapshot is the curated data an aggregation pass runs over.
type Snapshot struct {
	Students    map[string]bool   // known student natural keys
	Courses     map[string]Course // course natural key -> attributes
	Assignments []Assignment
	Enrollments []Enrollment
	Submissions []Submission
	Activity    []Activity
}

type Course struct {
	CourseID string
	Term     string
}

type Assignment struct {
	AssignmentID string
	CourseID     string
}

type Enrollment struct {
	StudentID  string
	CourseID   string
	State      string
	FinalGrade *string
	FinalScore *float64
	EnrolledAt *time.Time
}

type Submission struct {
	StudentID      string
	AssignmentID   string
	Score          *float64
	PointsPossible *float64
	Percentage     *float64
	Late           bool
	Missing        bool
}

type Activity struct {
	StudentID       string
	CourseID        string
	DurationSeconds int64
	Timestamp       *time.Time
}

// PerformanceRow is one row of agg_student_course_performance.
type PerformanceRow struct {
	StudentID            string
	CourseID             string
	Term                 string
	TotalAssignments     int
	CompletedAssignments int
	AvgScore             *float64
	TotalPointsEarned    *float64
	TotalPointsPossible  *float64
	LateSubmissions      int
	MissingSubmissions   int
	TotalActivityMinutes int64
	LastActivityDate     *time.Time
	CurrentGrade         *string
}

// AnalyticsRow is one row of agg_course_analytics.
type AnalyticsRow struct {
	CourseID             string
	Term                 string
	TotalEnrolled        int
	ActiveStudents       int
	AvgClassScore        *float64
	MedianClassScore     *float64
	GradeDistribution    map[string]int
	CompletionRate       float64
	AvgEngagementMinutes *float64
	AtRiskStudents       int
}

// At-risk thresholds for the roll-up report.
const (
	atRiskScoreFloor   = 70.0
	atRiskLateLimit    = 5
	atRiskMissingLimit = 3
	failingScoreCeil   = 60.0
)

type studentCourse struct {
	studentID string
	courseID  string
}

// ComputePerformance derives one row per enrolled (student, course, term)
// whose student and course both exist in the dimensions. Enrollments for
// unknown students or courses are skipped, matching the authoritative
// model's referential tolerance: the fact stays, the aggregate waits.
func ComputePerformance(snap *Snapshot) []PerformanceRow {
	assignmentCourse := make(map[string]string, len(snap.Assignments))
	assignmentsPerCourse := make(map[string]int)
	for _, a := range snap.Assignments {
		assignmentCourse[a.AssignmentID] = a.CourseID
		assignmentsPerCourse[a.CourseID]++
	}

	type submeasures struct {
		completed   int
		scoreSum    float64
		possibleSum float64
		hasPoints   bool
		pctSum      float64
		pctCount    int
		late        int
		missing     int
	}
	subsByPair := make(map[studentCourse]*submeasures)
	for _, s := range snap.Submissions {
		courseID, ok := assignmentCourse[s.AssignmentID]
		if !ok {
			continue
		}
		key := studentCourse{s.StudentID, courseID}
		m := subsByPair[key]
		if m == nil {
			m = &submeasures{}
			subsByPair[key] = m
		}
		m.completed++
		if s.Score != nil {
			m.scoreSum += *s.Score
			m.hasPoints = true
		}
		if s.PointsPossible != nil {
			m.possibleSum += *s.PointsPossible
			m.hasPoints = true
		}
		if s.Percentage != nil {
			m.pctSum += *s.Percentage
			m.pctCount++
		}
		if s.Late {
			m.late++
		}
		if s.Missing {
			m.missing++
		}
	}

	type actmeasures struct {
		seconds int64
		last    *time.Time
	}
	actByPair := make(map[studentCourse]*actmeasures)
	for _, a := range snap.Activity {
		key := studentCourse{a.StudentID, a.CourseID}
		m := actByPair[key]
		if m == nil {
			m = &actmeasures{}
			actByPair[key] = m
		}
		m.seconds += a.DurationSeconds
		if a.Timestamp != nil && (m.last == nil || a.Timestamp.After(*m.last)) {
			ts := *a.Timestamp
			m.last = &ts
		}
	}

	// One row per (student, course); the latest enrollment carries the grade.
	latest := make(map[studentCourse]Enrollment)
	for _, e := range snap.Enrollments {
		if !snap.Students[e.StudentID] {
			continue
		}
		if _, ok := snap.Courses[e.CourseID]; !ok {
			continue
		}
		key := studentCourse{e.StudentID, e.CourseID}
		prev, seen := latest[key]
		if !seen || enrolledAfter(e, prev) {
			latest[key] = e
		}
	}

	rows := make([]PerformanceRow, 0, len(latest))
	for key, e := range latest {
		course := snap.Courses[key.courseID]
		row := PerformanceRow{
			StudentID:        key.studentID,
			CourseID:         key.courseID,
			Term:             course.Term,
			TotalAssignments: assignmentsPerCourse[key.courseID],
			CurrentGrade:     e.FinalGrade,
		}

		if m := subsByPair[key]; m != nil {
			row.CompletedAssignments = m.completed
			row.LateSubmissions = m.late
			row.MissingSubmissions = m.missing
			if m.pctCount > 0 {
				avg := round2(m.pctSum / float64(m.pctCount))
				row.AvgScore = &avg
			}
			if m.hasPoints {
				earned := m.scoreSum
				possible := m.possibleSum
				row.TotalPointsEarned = &earned
				row.TotalPointsPossible = &possible
			}
		}

		if m := actByPair[key]; m != nil {
			row.TotalActivityMinutes = (m.seconds + 30) / 60 // round to nearest minute
			row.LastActivityDate = m.last
		}

		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StudentID != rows[j].StudentID {
			return rows[i].StudentID < rows[j].StudentID
		}
		return rows[i].CourseID < rows[j].CourseID
	})
	return rows
}

// ComputeAnalytics derives one row per course in the dimension. A course
// with no enrollments still gets a row with zero counts and a completion
// rate of 0, never a missing row or a division error. Enrollments count
// even when their student has no dimension row yet: an unresolved student
// reference is an audit finding, not grounds to understate a course.
func ComputeAnalytics(snap *Snapshot) []AnalyticsRow {
	engagement := make(map[studentCourse]int64)
	for _, a := range snap.Activity {
		engagement[studentCourse{a.StudentID, a.CourseID}] += a.DurationSeconds
	}

	type courseAcc struct {
		enrolled  map[string]bool
		active    map[string]bool
		scores    []float64
		grades    map[string]int
		rows      int
		completed int
		minutes   []float64
		atRisk    int
	}
	byCourse := make(map[string]*courseAcc, len(snap.Courses))
	for courseID := range snap.Courses {
		byCourse[courseID] = &courseAcc{
			enrolled: make(map[string]bool),
			active:   make(map[string]bool),
			grades:   map[string]int{"A": 0, "B": 0, "C": 0, "D": 0, "F": 0},
		}
	}

	for _, e := range snap.Enrollments {
		acc, ok := byCourse[e.CourseID]
		if !ok {
			continue
		}

		acc.rows++
		acc.enrolled[e.StudentID] = true
		if e.State == "active" {
			acc.active[e.StudentID] = true
		}
		if e.State == "completed" {
			acc.completed++
		}
		if e.FinalScore != nil {
			acc.scores = append(acc.scores, *e.FinalScore)
			if *e.FinalScore < failingScoreCeil {
				acc.atRisk++
			}
		}
		if e.FinalGrade != nil {
			if band := gradeBand(*e.FinalGrade); band != "" {
				acc.grades[band]++
			}
		}
		if mins, ok := engagement[studentCourse{e.StudentID, e.CourseID}]; ok {
			acc.minutes = append(acc.minutes, float64(mins)/60)
		}
	}

	rows := make([]AnalyticsRow, 0, len(byCourse))
	for courseID, acc := range byCourse {
		completionRate := 0.0
		if acc.rows > 0 {
			completionRate = round2(float64(acc.completed) * 100 / float64(acc.rows))
		}
		row := AnalyticsRow{
			CourseID:          courseID,
			Term:              snap.Courses[courseID].Term,
			TotalEnrolled:     len(acc.enrolled),
			ActiveStudents:    len(acc.active),
			GradeDistribution: acc.grades,
			CompletionRate:    completionRate,
			AtRiskStudents:    acc.atRisk,
		}

		if len(acc.scores) > 0 {
			avg := round2(mean(acc.scores))
			med := round2(median(acc.scores))
			row.AvgClassScore = &avg
			row.MedianClassScore = &med
		}
		if len(acc.minutes) > 0 {
			eng := roundN(mean(acc.minutes), 0)
			row.AvgEngagementMinutes = &eng
		}

		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CourseID < rows[j].CourseID
	})
	return rows
}

// AtRiskStudents rolls performance rows up per student and returns the
// IDs of students flagged by any of the risk rules: overall average
// below 70, more than 5 late submissions, or more than 3 missing.
func AtRiskStudents(rows []PerformanceRow) []string {
	type acc struct {
		scoreSum   float64
		scoreCount int
		late       int
		missing    int
	}
	byStudent := make(map[string]*acc)
	var order []string
	for _, row := range rows {
		a := byStudent[row.StudentID]
		if a == nil {
			a = &acc{}
			byStudent[row.StudentID] = a
			order = append(order, row.StudentID)
		}
		if row.AvgScore != nil {
			a.scoreSum += *row.AvgScore
			a.scoreCount++
		}
		a.late += row.LateSubmissions
		a.missing += row.MissingSubmissions
	}

	var flagged []string
	for _, id := range order {
		a := byStudent[id]
		lowScore := a.scoreCount > 0 && a.scoreSum/float64(a.scoreCount) < atRiskScoreFloor
		if lowScore || a.late > atRiskLateLimit || a.missing > atRiskMissingLimit {
			flagged = append(flagged, id)
		}
	}
	sort.Strings(flagged)
	return flagged
}

func enrolledAfter(a, b Enrollment) bool {
	if a.EnrolledAt == nil {
		return false
	}
	if b.EnrolledAt == nil {
		return true
	}
	return a.EnrolledAt.After(*b.EnrolledAt)
}
