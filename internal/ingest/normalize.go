package ingest

import (
	"strconv"
	"strings"
)

// DefaultCourse 在名册未给出课程/专业时填充。
const DefaultCourse = "Not Specified"

// StudentRow 是一行规范化后的学生记录。
// Password 为就业办提供的初始明文口令，开通账号时才会被哈希。
// CreditsAssigned 为空表示回落到文件级 credits。
type StudentRow struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CollegeName     string `json:"collegeName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Course          string `json:"course"`
	Password        string `json:"password"`
	CreditsAssigned *int   `json:"creditsAssigned,omitempty"`
	Incomplete      bool   `json:"incomplete,omitempty"`
}

// Provisionable 判断该行能否用于开通账号：必须有可用邮箱。
func (r StudentRow) Provisionable() bool {
	return !r.Incomplete && validEmail(r.Email)
}

// 规范字段名。
const (
	fieldID       = "id"
	fieldName     = "name"
	fieldCollege  = "collegeName"
	fieldEmail    = "email"
	fieldPhone    = "phone"
	fieldCourse   = "course"
	fieldPassword = "password"
	fieldCredits  = "creditsAssigned"
)

// fieldAliases 定义每个规范字段按优先级接受的表头写法（大小写不敏感）。
var fieldAliases = map[string][]string{
	fieldID:       {"ID", "Id", "Student ID", "Roll Number", "Roll No", "S.No"},
	fieldName:     {"Candidate Name", "Name", "Full Name", "Student Name"},
	fieldCollege:  {"College Name", "College", "Institute", "Institution"},
	fieldEmail:    {"Email", "Email ID", "Email Address", "E-mail", "Mail"},
	fieldPhone:    {"Phone", "Phone Number", "Mobile", "Mobile Number", "Contact", "Contact Number"},
	fieldCourse:   {"Course", "Branch", "Degree", "Stream"},
	fieldPassword: {"Password", "Pass", "Default Password"},
	fieldCredits:  {"Credits Assigned", "Credits", "Credit"},
}

// HeaderMap 记录规范字段到实际表头的解析结果，对整个文件解析一次即可。
type HeaderMap map[string]string

// MapHeaders 按别名表把实际表头解析为规范字段映射。
func MapHeaders(headers []string) HeaderMap {
	lookup := make(map[string]string, len(headers))
	for _, h := range headers {
		key := foldHeader(h)
		if key == "" {
			continue
		}
		if _, exists := lookup[key]; !exists {
			lookup[key] = h
		}
	}

	m := make(HeaderMap, len(fieldAliases))
	for field, aliases := range fieldAliases {
		for _, alias := range aliases {
			if source, ok := lookup[foldHeader(alias)]; ok {
				m[field] = source
				break
			}
		}
	}
	return m
}

func foldHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// Normalize 将一行原始数据映射为 StudentRow。
// 单行永远不会让整个文件失败：缺邮箱仅标记 Incomplete，仍保留用于展示。
func (m HeaderMap) Normalize(raw RawRow) StudentRow {
	row := StudentRow{
		ID:          m.value(raw, fieldID),
		Name:        m.value(raw, fieldName),
		CollegeName: m.value(raw, fieldCollege),
		Email:       m.value(raw, fieldEmail),
		Phone:       m.value(raw, fieldPhone),
		Course:      m.value(raw, fieldCourse),
		Password:    m.value(raw, fieldPassword),
	}

	if row.Course == "" {
		row.Course = DefaultCourse
	}
	if credits := m.value(raw, fieldCredits); credits != "" {
		v := parseCredits(credits)
		row.CreditsAssigned = &v
	}
	if !validEmail(row.Email) {
		row.Incomplete = true
	}
	return row
}

// NormalizeSheet 解析一次表头后规范化全部行。
func NormalizeSheet(sheet *Sheet) []StudentRow {
	if sheet == nil {
		return nil
	}
	m := MapHeaders(sheet.Headers)
	rows := make([]StudentRow, 0, len(sheet.Rows))
	for _, raw := range sheet.Rows {
		rows = append(rows, m.Normalize(raw))
	}
	return rows
}

func (m HeaderMap) value(raw RawRow, field string) string {
	source, ok := m[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(raw[source])
}

// parseCredits 把单元格解析为非负整数，解析失败或为负时取 0。
func parseCredits(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if strings.ContainsAny(email, " \t") {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}
