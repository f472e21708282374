package main

import "github.com/Martian-dev/leadsync/internal/app"

func main() {
	app.Execute()
}
