package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Uni Onboarding API",
        "description": "Student onboarding and account provisioning engine",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Operator authentication"},
        {"name": "Records", "description": "Ingested student records"},
        {"name": "Tasks", "description": "Provisioning task queue"},
        {"name": "Ingestion", "description": "Roster ingestion and watermarks"},
        {"name": "Scheduler", "description": "Batch processing and reports"},
        {"name": "Configuration", "description": "Runtime-tunable settings"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate an operator",
                "responses": {
                    "200": {"description": "Access token issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange a valid access token for a fresh one",
                "responses": {
                    "200": {"description": "Access token issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid token"}
                }
            }
        },
        "/records": {
            "get": {
                "tags": ["Records"],
                "summary": "List student records",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "stage", "in": "query", "type": "string"},
                    {"name": "program", "in": "query", "type": "string"},
                    {"name": "pending", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Records", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/records/{id}": {
            "get": {
                "tags": ["Records"],
                "summary": "Get a student record",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Record", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/records/{id}/stage": {
            "put": {
                "tags": ["Records"],
                "summary": "Advance a record to a later lifecycle stage",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Updated record"},
                    "409": {"description": "Stage does not advance"}
                }
            }
        },
        "/tasks": {
            "get": {
                "tags": ["Tasks"],
                "summary": "List tasks",
                "parameters": [
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "state", "in": "query", "type": "string"},
                    {"name": "recordId", "in": "query", "type": "string"},
                    {"name": "origin", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Tasks", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Tasks"],
                "summary": "Enqueue a task",
                "responses": {
                    "201": {"description": "Task enqueued"},
                    "400": {"description": "Invalid request"}
                }
            }
        },
        "/tasks/bulk": {
            "post": {
                "tags": ["Tasks"],
                "summary": "Enqueue the same task for a set of records",
                "responses": {
                    "201": {"description": "Tasks enqueued"},
                    "400": {"description": "Invalid request"}
                }
            }
        },
        "/tasks/{id}": {
            "get": {
                "tags": ["Tasks"],
                "summary": "Get a task",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Task"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/ingestion/watermarks": {
            "get": {
                "tags": ["Ingestion"],
                "summary": "List ingestion watermarks",
                "responses": {
                    "200": {"description": "Watermarks"}
                }
            }
        },
        "/ingestion/{category}/run": {
            "post": {
                "tags": ["Ingestion"],
                "summary": "Queue an ingestion run for a category",
                "parameters": [
                    {"name": "category", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "202": {"description": "Ingestion run queued"},
                    "400": {"description": "Unknown category"}
                }
            }
        },
        "/ingestion/{category}/force-reload": {
            "post": {
                "tags": ["Ingestion"],
                "summary": "Flag a category for a full window replay",
                "parameters": [
                    {"name": "category", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "Flag set"}
                }
            }
        },
        "/scheduler/tick": {
            "post": {
                "tags": ["Scheduler"],
                "summary": "Process one batch of pending tasks now",
                "responses": {
                    "200": {"description": "Batch summary"}
                }
            }
        },
        "/scheduler/batches/export": {
            "get": {
                "tags": ["Scheduler"],
                "summary": "Download recent batch activity as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Report file"}
                }
            }
        },
        "/config": {
            "get": {
                "tags": ["Configuration"],
                "summary": "Show the active runtime configuration",
                "responses": {
                    "200": {"description": "Snapshot and tunable keys"}
                }
            },
            "put": {
                "tags": ["Configuration"],
                "summary": "Override one tunable configuration value",
                "responses": {
                    "200": {"description": "New snapshot"},
                    "400": {"description": "Unknown key or invalid value"}
                }
            }
        },
        "/config/reload": {
            "post": {
                "tags": ["Configuration"],
                "summary": "Re-resolve overrides and republish the snapshot",
                "responses": {
                    "200": {"description": "New snapshot"}
                }
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
