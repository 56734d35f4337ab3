package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           orchd API
// @version         1.0
// @description     HTTP API for plan-driven orchestration of local LLM backends.
//
// @contact.name   orchd maintainers
// @contact.url    https://github.com/your-org/orchd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
