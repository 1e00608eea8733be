package repository

import (
	"context"
	"database/sql"
	"fmt"

	"upasthiti-notifier/internal/models"

	"go.uber.org/zap"
)

// RosterRepository 在校学生花名册仓库（花名册由 CRUD 模块维护，此处只读）
type RosterRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRosterRepository 创建花名册仓库
func NewRosterRepository(db *sql.DB, logger *zap.Logger) *RosterRepository {
	return &RosterRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveStudents 分页读取租户的在校学生
// 按 student_id 排序，保证重复运行时遍历顺序稳定
func (r *RosterRepository) ListActiveStudents(ctx context.Context, tenantID string, pageSize, offset int) ([]models.StudentContact, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page_size must be positive")
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative")
	}

	query := `
		SELECT
			student_id,
			full_name,
			roll_number,
			class_name,
			section_name,
			guardian_phone,
			parent_phone,
			mother_phone,
			guardian_name,
			parent_name
		FROM students
		WHERE tenant_id = $1
		  AND status = 'active'
		ORDER BY student_id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query active students: %w", err)
	}
	defer rows.Close()

	var students []models.StudentContact
	for rows.Next() {
		var s models.StudentContact
		var rollNumber, className, sectionName sql.NullString
		var guardianPhone, parentPhone, motherPhone sql.NullString
		var guardianName, parentName sql.NullString

		if err := rows.Scan(
			&s.StudentID,
			&s.FullName,
			&rollNumber,
			&className,
			&sectionName,
			&guardianPhone,
			&parentPhone,
			&motherPhone,
			&guardianName,
			&parentName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}

		s.RollNumber = rollNumber.String
		s.ClassName = className.String
		s.SectionName = sectionName.String
		s.GuardianPhone = guardianPhone.String
		s.ParentPhone = parentPhone.String
		s.MotherPhone = motherPhone.String
		s.GuardianName = guardianName.String
		s.ParentName = parentName.String

		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate students: %w", err)
	}

	return students, nil
}
