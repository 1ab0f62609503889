package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// line renders one "Label: value" row of a card description.
type line struct {
	label string
	value func(fields map[models.FieldKey]models.FieldValue, userID string) string
}

type section struct {
	heading string
	lines   []line
}

type layout struct {
	title    func(fields map[models.FieldKey]models.FieldValue) string
	sections []section
}

func fieldLine(label string, key models.FieldKey) line {
	return line{label: label, value: func(f map[models.FieldKey]models.FieldValue, _ string) string {
		return f[key].String()
	}}
}

var phoneLine = line{label: "Телефон", value: func(_ map[models.FieldKey]models.FieldValue, userID string) string {
	return userID
}}

var cooperatesLine = line{label: "Уже сотрудничает", value: func(f map[models.FieldKey]models.FieldValue, _ string) string {
	if f[models.FieldCooperates].Text == models.AnswerYes {
		return "Да"
	}
	return "Нет"
}}

// Card layouts keyed by category. Labels are Russian, the language of the board.
var layouts = map[models.Category]layout{
	models.CategoryDealership: {
		title: func(f map[models.FieldKey]models.FieldValue) string {
			name := f[models.FieldName].String()
			if name == "" {
				name = "Неизвестно"
			}
			return "Автосалон: " + name
		},
		sections: []section{{
			heading: "Информация об автосалоне:",
			lines: []line{
				fieldLine("Название", models.FieldName),
				fieldLine("Адрес", models.FieldAddress),
				phoneLine,
				cooperatesLine,
				fieldLine("Удостоверение", models.FieldIDDocument),
				fieldLine("Техпаспорт", models.FieldTechPassport),
			},
		}},
	},
	models.CategoryClient: {
		title: func(map[models.FieldKey]models.FieldValue) string {
			return "Клиент: Регистрация гарантии"
		},
		sections: []section{
			{
				heading: "Информация о клиенте:",
				lines: []line{
					phoneLine,
					fieldLine("Удостоверение", models.FieldIDDocument),
					fieldLine("Техпаспорт", models.FieldTechPassport),
				},
			},
			{
				heading: "Информация об автомобиле:",
				lines: []line{
					fieldLine("Номер машины", models.FieldCarNumber),
					fieldLine("Город", models.FieldCity),
					fieldLine("Пробег", models.FieldMileage),
				},
			},
		},
	},
}

// FormatSubmission renders the card title and description for a completed session.
func FormatSubmission(category models.Category, fields map[models.FieldKey]models.FieldValue, userID string) (string, string, error) {
	l, ok := layouts[category]
	if !ok {
		return "", "", fmt.Errorf("no card layout for category %q", category)
	}

	var b strings.Builder
	for i, sec := range l.sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sec.heading)
		b.WriteString("\n")
		for _, ln := range sec.lines {
			fmt.Fprintf(&b, "%s: %s\n", ln.label, ln.value(fields, userID))
		}
	}
	return l.title(fields), strings.TrimRight(b.String(), "\n"), nil
}
