// Command modhub runs the mod sharing hub API and its maintenance tasks.
//
//go:generate swag init -g cmd/modhub/main.go -d ../../ -o ../../docs
//
// @title                      ModHub API
// @version                    1.0
// @description                Mod sharing hub for the visual novel community: submissions, moderation, achievements and notifications.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the session token.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"
)

func main() {
	Execute()
}
