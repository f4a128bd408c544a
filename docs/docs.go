// Package docs swagger 文件, 內容對應 internal/api handler 上的 swag 註解
// 重新產生: swag init -g internal/api/router/router.go -o ./docs
package docs

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
        "/api/check-room/{roomId}": {
            "get": {
                "description": "只讀取, 不會建立房間",
                "produces": ["application/json"],
                "tags": ["Rooms"],
                "summary": "查詢房間",
                "parameters": [
                    {
                        "type": "string",
                        "description": "room code, 4-8 碼英數字",
                        "name": "roomId",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.CheckRoomRes"}
                    },
                    "400": {
                        "description": "room code 格式錯誤",
                        "schema": {"$ref": "#/definitions/handlers.ErrorRes"}
                    },
                    "429": {
                        "description": "請求過多",
                        "schema": {"$ref": "#/definitions/handlers.ErrorRes"}
                    }
                }
            }
        },
        "/api/create-room": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Rooms"],
                "summary": "產生新房間",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.CreateRoomRes"}
                    },
                    "429": {
                        "description": "請求過多",
                        "schema": {"$ref": "#/definitions/handlers.ErrorRes"}
                    },
                    "500": {
                        "description": "無法產生 room code",
                        "schema": {"$ref": "#/definitions/handlers.ErrorRes"}
                    }
                }
            }
        },
        "/api/create-room/{roomId}": {
            "post": {
                "description": "房間已存在時 created=false, 不是錯誤",
                "produces": ["application/json"],
                "tags": ["Rooms"],
                "summary": "建立指定房間",
                "parameters": [
                    {
                        "type": "string",
                        "description": "room code, 4-8 碼英數字",
                        "name": "roomId",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.CreateRoomRes"}
                    },
                    "400": {
                        "description": "room code 格式錯誤",
                        "schema": {"$ref": "#/definitions/handlers.ErrorRes"}
                    },
                    "429": {
                        "description": "請求過多",
                        "schema": {"$ref": "#/definitions/handlers.ErrorRes"}
                    }
                }
            }
        },
        "/api/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "服務狀態",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/handlers.HealthRes"}
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.CheckRoomRes": {
            "type": "object",
            "properties": {
                "exists": {"type": "boolean"}
            }
        },
        "handlers.CreateRoomRes": {
            "type": "object",
            "properties": {
                "created": {"type": "boolean"},
                "roomId": {"type": "string"},
                "success": {"type": "boolean"}
            }
        },
        "handlers.ErrorRes": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        },
        "handlers.HealthRes": {
            "type": "object",
            "properties": {
                "connections": {"type": "integer"},
                "rooms": {"type": "integer"},
                "status": {"type": "string"},
                "uptime": {"type": "number"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:3001",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Ephemeral Chat Relay API",
	Description:      "Room gateway for the ephemeral chat relay",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
