// Command summarizer condenses every page of a website into a short summary
// and, optionally, a one-paragraph description of the whole site.
//
// Architecture overview:
//   - Source: page URLs come from the site's sitemap (following sitemap
//     indexes) or from a static list in configuration.
//   - Extraction: a Colly probe fetch, optionally promoted to a headless
//     Chromedp render, is reduced to title and main text with goquery.
//   - Summarization: pages are batched, each batch goes through a circuit
//     breaker and a retrying invoker, and the reply is validated before it is
//     accepted. Summaries are cached per model and site so reruns skip work.
//   - Fanout: progress events feed zap logs and Prometheus collectors; a
//     run.completed notification is published when Pub/Sub is configured.
//
// Subcommands:
//   - run: summarize one site and print the result as JSON.
//   - describe: summarize one site and print only its description.
//   - serve: start the ops HTTP server with the /v1/runs API.
//
// Configuration is read from the file given by --config and from
// SUMMARIZER_* environment variables.
package main
