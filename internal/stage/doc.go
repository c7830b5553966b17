// Package stage implements the processors of a talking-head session
// pipeline.
//
// # Architecture
//
// A session runs the stages in this order:
//
//	InputTransport → TranscriptCollector → UserAggregator → LLM → TTS →
//	Animation → OutputTransport → AssistantAggregator
//
// The input transport turns room events into frames and classifies audio
// with voice activity detection. The user aggregator folds final
// transcriptions into the shared [conversation.Context] and asks the LLM
// stage for a reply, which the TTS stage speaks sentence by sentence. The
// animation stage switches the camera between the quiet image and the
// talking loop, and the output transport plays everything into the room.
// The assistant aggregator, last in line, commits completed replies to the
// conversation.
//
// Barge-in travels the other way: the output transport pushes a
// [frame.Interruption] upstream when voiced participant audio arrives while
// the bot is speaking. The TTS and LLM stages abandon in-flight work and the
// TTS stage answers with a SynthesisStopped marked Interrupted, after which
// the output transport plays audio again.
package stage
