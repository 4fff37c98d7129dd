// Package logx is agendabot's logging layer: a zerolog-backed Logger whose
// outputs (console, JSON file, operator chat) can be swapped at runtime by a
// Service without invalidating loggers already handed out.
package logx
