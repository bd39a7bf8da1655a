package report

import (
	"fmt"
	"strings"

	"voice-bridge/backend/internal/state"
)

// SystemPrompt frames report generation for the text LLM.
const SystemPrompt = `Eres un Experto Senior en Prevención de Riesgos Laborales (HSE).
A partir de la transcripción de una inspección en vivo, redacta un INFORME TÉCNICO en Markdown.
Incluye hallazgos, matriz de riesgos y jerarquía de controles. No incluyas saludos.
Cita solamente los indicadores que se entregan; no inventes cifras.`

const (
	perHundred         = 100.0
	perHundredThousand = 100000.0
)

// Indicator is one computed occupational-health figure
type Indicator struct {
	ID      string
	Name    string
	Formula string
	Value   float64
	Period  string
}

// Indicators computes the figures the given stats support. Figures whose
// inputs are unknown, including a missing worker count, are left out
// instead of being estimated.
func Indicators(stats *state.ReportStats) []Indicator {
	if stats == nil {
		return nil
	}

	var indicators []Indicator
	workers := float64(stats.Workers)
	knownWorkers := stats.Workers > 0

	if knownWorkers {
		indicators = append(indicators,
			Indicator{
				ID:      "frecuencia",
				Name:    "Frecuencia de Accidentalidad",
				Formula: "(N° AT / N° trabajadores) × 100",
				Value:   float64(stats.WorkAccidents) / workers * perHundred,
				Period:  "Mensual",
			},
			Indicator{
				ID:      "severidad",
				Name:    "Severidad de Accidentalidad",
				Formula: "((Días Incap + Días Cargados) / N° trabajadores) × 100",
				Value:   float64(stats.LostDays+stats.ChargedDays) / workers * perHundred,
				Period:  "Mensual",
			},
		)
	}

	if stats.FatalAccidents != nil {
		value := 0.0
		if stats.WorkAccidents > 0 {
			value = float64(*stats.FatalAccidents) / float64(stats.WorkAccidents) * perHundred
		}
		indicators = append(indicators, Indicator{
			ID:      "mortalidad",
			Name:    "Proporción de Accidentes de Trabajo Mortales",
			Formula: "(N° AT Mortales / Total AT) × 100",
			Value:   value,
			Period:  "Anual",
		})
	}

	// Disease rates are per average worker count
	if !knownWorkers {
		return indicators
	}

	if stats.NewDiseaseCases != nil && stats.OldDiseaseCases != nil {
		indicators = append(indicators, Indicator{
			ID:      "prevalencia",
			Name:    "Prevalencia de la Enfermedad Laboral",
			Formula: "((Casos Nuevos + Antiguos) / Promedio trabajadores) × 100.000",
			Value:   float64(*stats.NewDiseaseCases+*stats.OldDiseaseCases) / workers * perHundredThousand,
			Period:  "Anual",
		})
	}

	if stats.NewDiseaseCases != nil {
		indicators = append(indicators, Indicator{
			ID:      "incidencia",
			Name:    "Incidencia de la Enfermedad Laboral",
			Formula: "(Casos Nuevos EL / Promedio trabajadores) × 100.000",
			Value:   float64(*stats.NewDiseaseCases) / workers * perHundredThousand,
			Period:  "Anual",
		})
	}

	return indicators
}

// BuildContext renders the conversation lines and any known indicators into
// the user prompt of a report request.
func BuildContext(lines []string, stats *state.ReportStats) string {
	var b strings.Builder

	b.WriteString("## Transcripción\n")
	if len(lines) == 0 {
		b.WriteString("(sin transcripción)\n")
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}

	indicators := Indicators(stats)
	if len(indicators) > 0 {
		b.WriteString("\n## Indicadores\n")
		b.WriteString("| Indicador | Fórmula | Valor | Periodicidad |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, ind := range indicators {
			fmt.Fprintf(&b, "| %s | %s | %.2f | %s |\n", ind.Name, ind.Formula, ind.Value, ind.Period)
		}
	}

	return b.String()
}
