// Package api holds the OpenAPI description of the k1serial HTTP API served
// at /api/docs.
package api

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/register_public_key": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Registration"
                ],
                "summary": "Register a factory public key",
                "parameters": [
                    {
                        "description": "Factory name and P-256 public key",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "type": "object",
                            "properties": {
                                "factory_name": {
                                    "type": "string"
                                },
                                "public_key": {
                                    "type": "string"
                                }
                            }
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Key already registered"
                    },
                    "201": {
                        "description": "Registration pending"
                    },
                    "400": {
                        "description": "Invalid key or request"
                    }
                },
                "consumes": [
                    "application/json"
                ]
            }
        },
        "/check_registration_status": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Registration"
                ],
                "summary": "Check registration status",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Public key",
                        "name": "public_key",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Registration state"
                    },
                    "400": {
                        "description": "Invalid key"
                    },
                    "404": {
                        "description": "Unknown key"
                    }
                }
            }
        },
        "/add_serials": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Uploads"
                ],
                "summary": "Upload serials",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Factory name",
                        "name": "X-Factory-ID",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Unix seconds",
                        "name": "X-Timestamp",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Base64 signature over timestamp and payload hash",
                        "name": "X-Signature",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "file",
                        "description": "CSV with device_id,wwyy rows",
                        "name": "file",
                        "in": "formData",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Serials ingested"
                    },
                    "400": {
                        "description": "Malformed upload"
                    },
                    "403": {
                        "description": "Authentication failed"
                    },
                    "500": {
                        "description": "Stored in the offline queue"
                    }
                },
                "consumes": [
                    "multipart/form-data"
                ]
            }
        },
        "/add_batch_serials": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Uploads"
                ],
                "summary": "Upload a batch of serials",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Factory name",
                        "name": "X-Factory-ID",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Unix seconds",
                        "name": "X-Timestamp",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Base64 signature over timestamp and payload hash",
                        "name": "X-Signature",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "file",
                        "description": "CSV with device_id,wwyy rows",
                        "name": "file",
                        "in": "formData",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Batch id",
                        "name": "X-Batch-ID",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "Test runs",
                        "name": "X-Test-Run-Count",
                        "in": "header"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Serials ingested"
                    },
                    "400": {
                        "description": "Malformed upload"
                    },
                    "403": {
                        "description": "Authentication failed"
                    },
                    "500": {
                        "description": "Stored in the offline queue"
                    }
                },
                "consumes": [
                    "multipart/form-data"
                ]
            }
        },
        "/add_chunk_serials": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Uploads"
                ],
                "summary": "Upload one chunk of a batch",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Factory name",
                        "name": "X-Factory-ID",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Unix seconds",
                        "name": "X-Timestamp",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Base64 signature over timestamp and payload hash",
                        "name": "X-Signature",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "file",
                        "description": "CSV with device_id,wwyy rows",
                        "name": "file",
                        "in": "formData",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Batch id",
                        "name": "X-Batch-ID",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "Zero-based chunk index",
                        "name": "X-Chunk-Index",
                        "in": "header",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "Number of chunks",
                        "name": "X-Total-Chunks",
                        "in": "header",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Serials ingested"
                    },
                    "400": {
                        "description": "Malformed upload"
                    },
                    "403": {
                        "description": "Authentication failed"
                    },
                    "500": {
                        "description": "Stored in the offline queue"
                    }
                },
                "consumes": [
                    "multipart/form-data"
                ]
            }
        },
        "/verify": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Verify"
                ],
                "summary": "Verify a serial number",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Serial number, K1S-<device id>",
                        "name": "sn",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Authentic"
                    },
                    "400": {
                        "description": "Invalid serial format"
                    },
                    "404": {
                        "description": "Not found"
                    },
                    "429": {
                        "description": "Rate limit exceeded"
                    }
                }
            }
        },
        "/queue_status": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Queue"
                ],
                "summary": "Offline queue counts for a factory key",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Approved public key",
                        "name": "public_key",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Pending and failed counts"
                    },
                    "400": {
                        "description": "Invalid key"
                    },
                    "403": {
                        "description": "Key not approved"
                    }
                }
            }
        },
        "/admin/registration_requests": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "List registrations",
                "parameters": [
                    {
                        "type": "string",
                        "description": "pending, approved or denied",
                        "name": "status",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Registrations, newest first"
                    },
                    "400": {
                        "description": "Invalid status"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/approve_request/{id}": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Approve a registration",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Request id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Actor",
                        "name": "body",
                        "in": "body",
                        "schema": {
                            "type": "object",
                            "properties": {
                                "approved_by": {
                                    "type": "string"
                                },
                                "denied_by": {
                                    "type": "string"
                                },
                                "revoked_by": {
                                    "type": "string"
                                }
                            }
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Approved"
                    },
                    "404": {
                        "description": "Unknown request"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/deny_request/{id}": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Deny a registration",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Request id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Actor",
                        "name": "body",
                        "in": "body",
                        "schema": {
                            "type": "object",
                            "properties": {
                                "approved_by": {
                                    "type": "string"
                                },
                                "denied_by": {
                                    "type": "string"
                                },
                                "revoked_by": {
                                    "type": "string"
                                }
                            }
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Denied"
                    },
                    "404": {
                        "description": "Unknown request"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/revoke_request/{id}": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Revoke an approved registration",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Request id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Actor",
                        "name": "body",
                        "in": "body",
                        "schema": {
                            "type": "object",
                            "properties": {
                                "approved_by": {
                                    "type": "string"
                                },
                                "denied_by": {
                                    "type": "string"
                                },
                                "revoked_by": {
                                    "type": "string"
                                }
                            }
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Revoked"
                    },
                    "400": {
                        "description": "Not approved"
                    },
                    "404": {
                        "description": "Unknown request"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/queue/{factory}": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Offline queue counts",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Factory name",
                        "name": "factory",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Counts"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/queue/{factory}/reset": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Reset failed queue entries",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Factory name",
                        "name": "factory",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Entries reset"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/batches/{id}": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Batch progress",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Batch id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Batch with chunks"
                    },
                    "404": {
                        "description": "Unknown batch"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/health/system": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Host memory and disk health",
                "parameters": [],
                "responses": {
                    "200": {
                        "description": "Healthy or warning"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/admin/activity": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Admin"
                ],
                "summary": "Live activity feed (websocket)",
                "parameters": [
                    {
                        "type": "array",
                        "items": {
                            "type": "string"
                        },
                        "collectionFormat": "multi",
                        "description": "Factory filter",
                        "name": "factory",
                        "in": "query"
                    },
                    {
                        "type": "array",
                        "items": {
                            "type": "string"
                        },
                        "collectionFormat": "multi",
                        "description": "Event type filter",
                        "name": "type",
                        "in": "query"
                    }
                ],
                "responses": {
                    "101": {
                        "description": "Switching to websocket"
                    },
                    "401": {
                        "description": "Missing or invalid admin token"
                    },
                    "503": {
                        "description": "Admin token not configured"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/health": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "System"
                ],
                "summary": "Server health",
                "parameters": [],
                "responses": {
                    "200": {
                        "description": "Healthy"
                    },
                    "503": {
                        "description": "Database unreachable"
                    }
                }
            }
        },
        "/health/db": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "System"
                ],
                "summary": "Database health with pool statistics",
                "parameters": [],
                "responses": {
                    "200": {
                        "description": "Healthy"
                    },
                    "503": {
                        "description": "Database unreachable"
                    }
                }
            }
        },
        "/version": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "System"
                ],
                "summary": "Build information",
                "parameters": [],
                "responses": {
                    "200": {
                        "description": "Version, commit and build date"
                    }
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Admin token. Use format: Bearer <token>",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "k1serial API",
	Description:      "Factory key registration, signed serial uploads and public serial verification.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
