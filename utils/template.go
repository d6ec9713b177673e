package utils

import (
	"math/rand"
	"strings"

	"wablast/apperrors"
	"wablast/models"
)

// RenderTemplate substitutes {column} placeholders with row values.
func RenderTemplate(template string, vars map[string]string) string {
	result := template
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// SelectSample picks the message sample for one row: uniformly at random
// among the configured samples, or verbatim from a source-row column when
// columnValue is set. A column-sourced sample has index -1 (no analytics row).
func SelectSample(samples []models.MessageSample, columnValue string) (int, string, error) {
	if columnValue != "" {
		return -1, columnValue, nil
	}
	if len(samples) == 0 {
		return 0, "", apperrors.NewValidation("no message samples configured")
	}
	if len(samples) == 1 {
		return 0, samples[0].Text, nil
	}
	idx := rand.Intn(len(samples))
	return idx, samples[idx].Text, nil
}
