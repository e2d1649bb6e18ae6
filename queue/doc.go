// Package queue provides the Redis work queue that carries report imports
// from the HTTP API to import workers.
//
// The API stores an upload, pushes an ImportJob and returns the job id. A
// worker pops the job, imports the report and publishes a Result on the
// job's result channel.
//
// # Redis Key Schema
//
//   - queue:<name>:jobs - List of pending jobs (LPUSH/BRPOP)
//   - queue:<name>:workers - Integer counter of workers consuming the queue
//   - worker:<id>:meta - Hash of worker metadata
//   - worker:<id>:health - String with a 30s TTL, refreshed by Heartbeat
//   - workers:available - Set of registered worker ids
//   - results:<jobID> - Pub/Sub channel for the job's Result
//
// # Usage
//
//	conn, err := queue.Dial(queue.RedisOptions{
//		URL:            "redis://localhost:6379",
//		ConnectTimeout: 5 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	client := queue.NewRedisClientFrom(conn)
//	defer client.Close()
//
//	results, err := client.Subscribe(ctx, queue.ResultChannel(job.JobID))
//	if err != nil {
//		return err
//	}
//	if err := client.Push(ctx, queue.DefaultQueue, job); err != nil {
//		return err
//	}
//	res := <-results
//
// Pop blocks for at most PopTimeout and returns a nil job when none arrived,
// so a consumer loop can check its context between calls.
package queue
