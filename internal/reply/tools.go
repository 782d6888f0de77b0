package reply

import (
	"encoding/json"

	"github.com/hondutalent/bridge/internal/llm"
)

// Catalog returns the tool schemas exposed to the model during reply
// generation. Names and parameter keys match the CRM bot tool endpoints;
// the backend reads them verbatim from the query string, so renaming one
// here breaks that tool for every conversation.
func Catalog() []llm.Tool {
	return []llm.Tool{
		{
			Type: "function",
			Function: &llm.Function{
				Name:        "search_vacancies_tool",
				Description: "Busca vacantes activas filtradas por ciudad y una palabra clave del puesto o rubro de interés.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"city": {"type": "string", "description": "Ciudad donde el contacto busca trabajo"},
						"keyword": {"type": "string", "description": "Palabra clave del puesto o rubro de interés"}
					},
					"required": ["city"]
				}`),
			},
		},
		{
			Type: "function",
			Function: &llm.Function{
				Name:        "validate_registration_tool",
				Description: "Verifica si un número de identidad corresponde a un afiliado registrado.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"identity_number": {"type": "string", "description": "Número de identidad del contacto"}
					},
					"required": ["identity_number"]
				}`),
			},
		},
		{
			Type: "function",
			Function: &llm.Function{
				Name:        "get_vacancy_details_tool",
				Description: "Obtiene los detalles completos de una vacante por el nombre del cargo solicitado.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"cargo_solicitado": {"type": "string", "description": "Nombre exacto del cargo de la vacante"}
					},
					"required": ["cargo_solicitado"]
				}`),
			},
		},
		{
			Type: "function",
			Function: &llm.Function{
				Name:        "get_candidate_status_tool",
				Description: "Consulta el estado de las postulaciones de un afiliado.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"identity_number": {"type": "string", "description": "Número de identidad del afiliado"}
					},
					"required": ["identity_number"]
				}`),
			},
		},
	}
}
