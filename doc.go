/*
Package kafkaqueue implements the core of a kafka consumer: it fetches records
from a static set of partitions of a single topic, starting at given offsets,
and merges them into a single queue which the user polls with a timeout.

Use a consumer.Session. Set its public fields, call Start once with the
partitions and start offsets, call Consume in a loop, and call Close when
done. The broker client (network, metadata, fetch requests) is behind the
interfaces in the broker package; broker.Sarama implements them on top of
sarama. See cmd/consumer for example implementation.
*/
package kafkaqueue
