package main

import "supportloop/internal/app"

func main() {
	app.Main()
}
