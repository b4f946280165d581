// Package engine содержит движок обхода flow.
//
// Включает:
//   - parser.go   — разбор и валидация flow при загрузке
//   - traverse.go — обход графа до wait, end или конца flow
//   - message.go  — построение сообщений Send API из text и card узлов
//   - template.go — подстановка плейсхолдеров ({{USER_ID}}) в сообщения
//
// Engine не делает I/O: на вход граф и узел продолжения, на выход
// сообщения и точка возобновления.
package engine
