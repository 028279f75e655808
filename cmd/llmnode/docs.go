package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           llmnode API
// @version         1.0
// @description     HTTP API of an LLM inference node: engine plugins, model loading and generation.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
