// Package handlers provides the built-in task types run by the scheduler.
//
//   - investigate: diagnose a target ({"target","issue"}) from live device data
//   - analyze: review a scope ({"scope"}) of device configuration
//   - summarize: summarise recent conversation from memory
//   - skill_invoke: run an executable ({"skill"}) from the skills directory
//
// Device access, LLM calls and memory retrieval are collaborators supplied
// through [Deps]; handlers whose collaborators are missing are not registered,
// so submitting them fails at dispatch as an unknown task type.
package handlers
